// Package backoff provides the randomized, geometrically growing wait durations
// the profiling agent uses after a failed cycle.
//
// A Backoff keeps an envelope: the upper bound of the next wait. Every call to
// Next draws a uniformly random duration in [0, envelope) and then grows the
// envelope by Multiplier, capped at Ceiling. The jitter spreads retries of many
// agent instances over the whole envelope instead of synchronizing them.
//
// # Basic Usage
//
//	b := backoff.New(backoff.Config{
//	    Floor:      time.Minute,
//	    Ceiling:    time.Hour,
//	    Multiplier: 1.3,
//	})
//
//	wait := b.Next() // somewhere in [0, 1m)
//	wait = b.Next()  // somewhere in [0, 1m18s)
//	b.Reset()        // back to [0, 1m)
//
// # Envelope Growth
//
// With Floor of 1m and Multiplier of 1.3 the envelope evolves as:
//   - Call 1: 1m
//   - Call 2: 1m18s
//   - Call 3: 1m41.4s
//   - ...
//   - Call 15 onwards: 1h (capped)
//
// A Backoff is not safe for concurrent use; it is owned by a single loop.
package backoff

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultFloor is the envelope of the first wait after a healthy streak.
	DefaultFloor = time.Minute

	// DefaultCeiling caps the envelope.
	DefaultCeiling = time.Hour

	// DefaultMultiplier is the envelope growth factor.
	DefaultMultiplier = 1.3
)

// Config defines the envelope bounds and growth.
type Config struct {
	// Floor is the initial envelope and the envelope after Reset.
	// Negative values are treated as zero.
	Floor time.Duration

	// Ceiling caps the envelope. A Ceiling below Floor is raised to Floor.
	Ceiling time.Duration

	// Multiplier is applied to the envelope after every draw.
	// Values not greater than 1 fall back to DefaultMultiplier.
	Multiplier float64
}

// DefaultConfig returns the Cloud Profiler agent defaults (1m, 1h, 1.3).
func DefaultConfig() Config {
	return Config{
		Floor:      DefaultFloor,
		Ceiling:    DefaultCeiling,
		Multiplier: DefaultMultiplier,
	}
}

// normalize enforces floor <= ceiling and multiplier > 1.
func (c Config) normalize() Config {
	if c.Floor < 0 {
		c.Floor = 0
	}
	if c.Ceiling < c.Floor {
		c.Ceiling = c.Floor
	}
	if !(c.Multiplier > 1) {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Backoff produces jittered waits from a growing envelope.
type Backoff struct {
	cfg      Config
	envelope time.Duration
	int64n   func(n int64) int64
}

// Option customizes a Backoff.
type Option func(*Backoff)

// WithRand sets the random source used for draws.
func WithRand(r *rand.Rand) Option {
	return func(b *Backoff) {
		b.int64n = r.Int64N
	}
}

// New creates a Backoff whose envelope starts at cfg.Floor.
func New(cfg Config, opts ...Option) *Backoff {
	cfg = cfg.normalize()
	b := &Backoff{
		cfg:      cfg,
		envelope: cfg.Floor,
		int64n:   rand.Int64N,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Next returns a random wait in [0, envelope) and advances the envelope.
// An empty envelope yields zero.
func (b *Backoff) Next() time.Duration {
	var wait time.Duration
	if b.envelope > 0 {
		wait = time.Duration(b.int64n(int64(b.envelope)))
	}

	grown := time.Duration(float64(b.envelope) * b.cfg.Multiplier)
	if grown > b.cfg.Ceiling || grown < b.envelope {
		// The second check guards float overflow on huge ceilings.
		grown = b.cfg.Ceiling
	}
	b.envelope = grown

	return wait
}

// Reset restores the envelope to Floor.
func (b *Backoff) Reset() {
	b.envelope = b.cfg.Floor
}

// Envelope returns the upper bound of the next draw.
func (b *Backoff) Envelope() time.Duration {
	return b.envelope
}

// Config returns the normalized configuration.
func (b *Backoff) Config() Config {
	return b.cfg
}
