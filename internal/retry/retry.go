// Package retry decides what happens to a job after a delivery attempt.
// The policy is pure: it does no I/O and never reads the clock itself, so
// the attempt/outcome matrix is testable without a store.
package retry

import (
	"time"

	"github.com/Ruvo-Inc/mailq/internal/domain"
)

// DefaultBackoff is the delay table used when RETRY_BACKOFF_TABLE is unset.
// Indexed by completed-attempt count, so the first failure retries fastest.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Decision is the post-attempt state of a job. NotBefore is only meaningful
// when Rearmed is true.
type Decision struct {
	Status    domain.Status
	NotBefore time.Time
	Rearmed   bool
}

type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func New(maxAttempts int, backoff []time.Duration) Policy {
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}
	return Policy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// NextState maps (outcome, attempts) to the job's next status. attempts is
// the count including the attempt that just finished.
//
//	sent                      -> sent, done forever
//	failed, attempts < max    -> queued again, eligible at now + backoff
//	failed, attempts >= max   -> failed, terminal
func (p Policy) NextState(outcome domain.Outcome, attempts int, now time.Time) Decision {
	if outcome == domain.OutcomeSent {
		return Decision{Status: domain.StatusSent}
	}
	if attempts >= p.MaxAttempts {
		return Decision{Status: domain.StatusFailed}
	}
	return Decision{
		Status:    domain.StatusQueued,
		NotBefore: now.Add(p.Delay(attempts)),
		Rearmed:   true,
	}
}

// Delay returns the backoff for a job that has completed n attempts. The
// table index clamps at the last entry.
func (p Policy) Delay(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}
