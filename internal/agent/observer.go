package agent

import "time"

// Failure describes one failed cycle.
type Failure struct {
	Stage string
	Kind  Kind
	Err   error

	// RetryIn is the wait before the next attempt.
	RetryIn time.Duration
}

// FailureObserver is notified of every failed cycle. It cannot change how
// the loop recovers; it exists so hosts can count or export failures.
type FailureObserver interface {
	ObserveFailure(f Failure)
}

// FailureFunc adapts a function to FailureObserver.
type FailureFunc func(f Failure)

// ObserveFailure calls fn.
func (fn FailureFunc) ObserveFailure(f Failure) { fn(f) }
