package executor

import "time"

// breaker is the consecutive-failure circuit breaker. After maxFailures
// non-success outcomes in a row it refuses attempts until the pause window
// elapses or an operator resets it. A manual trip holds it open
// indefinitely. Callers synchronize access; breaker has no lock of its own.
type breaker struct {
	maxFailures int
	pause       time.Duration

	failures    int
	pausedUntil time.Time
	tripped     bool // manual trip, cleared only by Reset
}

func newBreaker(maxFailures int, pause time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, pause: pause}
}

// Allow reports whether an attempt may proceed at the given time.
func (b *breaker) Allow(now time.Time) bool {
	if b.tripped {
		return false
	}
	if b.failures < b.maxFailures {
		return true
	}
	// Pause elapsed: permit a probe attempt. A success resets the count,
	// another failure re-arms the pause.
	return !now.Before(b.pausedUntil)
}

// Failure records a non-success outcome, arming the pause window when the
// threshold is reached.
func (b *breaker) Failure(now time.Time) {
	b.failures++
	if b.failures >= b.maxFailures {
		b.pausedUntil = now.Add(b.pause)
	}
}

// Success clears the consecutive-failure count.
func (b *breaker) Success() {
	b.failures = 0
	b.pausedUntil = time.Time{}
}

// Trip holds the breaker open until Reset, used when the unwind path
// itself proved unreliable.
func (b *breaker) Trip() {
	b.tripped = true
}

// Reset clears both the manual trip and the failure count.
func (b *breaker) Reset() {
	b.tripped = false
	b.Success()
}

// Failures returns the current consecutive-failure count.
func (b *breaker) Failures() int {
	return b.failures
}
