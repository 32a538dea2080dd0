// Package sampler captures CPU profiles of the current process with the Go
// runtime profiler and parses them into pprof reports.
package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/cloudprof/internal/agent"
)

// DefaultRate is the runtime's own CPU sampling frequency in Hz.
const DefaultRate = 100

var (
	// ErrAlreadyRunning is returned when a capture is already in progress.
	ErrAlreadyRunning = errors.New("cpu capture already running")

	// ErrEmptyProfile is returned when the runtime produced no profile data.
	ErrEmptyProfile = errors.New("cpu profile is empty")

	// ErrFinalized is returned by a second Finalize call.
	ErrFinalized = errors.New("cpu capture already finalized")
)

// Indirections over runtime/pprof for tests.
var (
	startCPUProfile = pprof.StartCPUProfile
	stopCPUProfile  = pprof.StopCPUProfile
	setCPURate      = runtime.SetCPUProfileRate
)

// CPU captures CPU profiles with runtime/pprof. Only one capture can be
// active per process.
type CPU struct {
	mu      sync.Mutex
	running bool
}

// NewCPU creates a CPU sampler.
func NewCPU() *CPU {
	return &CPU{}
}

// Start begins a capture at rate Hz. Non-positive rates use DefaultRate.
//
// A custom rate is applied with runtime.SetCPUProfileRate before the profile
// starts. StartCPUProfile then tries to set DefaultRate itself, which the
// runtime refuses while printing "cannot set cpu profile rate until previous
// profile has finished" to stderr. The custom rate still takes effect; the
// line is printed once per capture and cannot be routed through the logger.
// Callers that need a silent stderr should leave the rate at DefaultRate.
//
// A failed start leaves the runtime rate alone: it only fails when another
// CPU profile is running, and that profile owns the rate.
func (c *CPU) Start(rate int) (agent.Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil, ErrAlreadyRunning
	}

	if rate > 0 && rate != DefaultRate {
		// StartCPUProfile keeps a rate that was set before it runs.
		setCPURate(rate)
	}

	buf := &bytes.Buffer{}
	if err := startCPUProfile(buf); err != nil {
		return nil, fmt.Errorf("failed to start cpu profile: %w", err)
	}

	c.running = true
	return &cpuCapture{owner: c, buf: buf, started: time.Now()}, nil
}

func (c *CPU) release() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

type cpuCapture struct {
	owner   *CPU
	buf     *bytes.Buffer
	started time.Time
	done    bool
}

// Finalize stops the runtime profiler and parses what it wrote.
func (c *cpuCapture) Finalize() (*profile.Profile, error) {
	if c.done {
		return nil, ErrFinalized
	}
	c.done = true

	stopCPUProfile()
	c.owner.release()

	return parseCapture(c.buf, time.Since(c.started))
}

func parseCapture(r io.Reader, elapsed time.Duration) (*profile.Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu profile: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyProfile
	}

	p, err := profile.ParseData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cpu profile: %w", err)
	}
	if p.DurationNanos == 0 {
		p.DurationNanos = elapsed.Nanoseconds()
	}
	return p, nil
}
