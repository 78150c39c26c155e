// Package lease implements the time-bounded exclusive claim on a job.
// Mutual exclusion comes entirely from the store transaction; the manager
// holds no locks and keeps no state between calls, so any number of
// processes can race the same job safely.
package lease

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/retry"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

// AcquireResult tells the caller why an acquisition did or did not happen.
// Callers branch on the value; only infrastructure failures come back as
// errors.
type AcquireResult int

const (
	// Acquired means this caller now owns the job until the lease expires.
	Acquired AcquireResult = iota
	// Contended means the job is not eligible right now: another live
	// lease, a terminal status, or a future notBefore. Not an error.
	Contended
	// NotFound means the job document does not exist.
	NotFound
)

func (r AcquireResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case Contended:
		return "contended"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

type Manager struct {
	store  store.Store
	policy retry.Policy
	log    *zap.Logger
	now    func() time.Time
}

func NewManager(st store.Store, policy retry.Policy, log *zap.Logger) *Manager {
	return &Manager{
		store:  st,
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Acquire claims the job for ownerToken for duration d. All eligibility
// checks and the claim write happen inside one store transaction, so two
// racing callers can never both see Acquired. A store failure propagates
// as an error, distinct from a clean Contended, because the trigger
// infrastructure may want to retry the whole invocation.
func (m *Manager) Acquire(ctx context.Context, jobID, ownerToken string, d time.Duration) (AcquireResult, error) {
	result := Contended
	err := m.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.Get(ctx, jobID)
		if err != nil {
			if err == store.ErrNotFound {
				result = NotFound
				return nil
			}
			return err
		}

		now := m.now()
		if j.Status.Terminal() {
			return nil
		}
		// Expiry, not the status field, decides whether a lease blocks us.
		// A job stuck in "processing" past its leaseExpiresAt is logically
		// queued again and may be claimed here.
		if j.LeaseLive(now) {
			return nil
		}
		if now.Before(j.NotBefore) {
			return nil
		}

		status := domain.StatusProcessing
		expires := now.Add(d)
		if err := tx.Update(ctx, jobID, store.Patch{
			Status:         &status,
			LeaseOwner:     &ownerToken,
			LeaseExpiresAt: &expires,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
		result = Acquired
		return nil
	})
	if err != nil {
		return Contended, err
	}
	return result, nil
}

// ReleaseState is the job state after a release, surfaced so the caller
// can schedule the delayed retry without re-reading the document.
type ReleaseState struct {
	Status    domain.Status
	NotBefore time.Time
	Rearmed   bool
}

// Release clears the lease, records the attempt count and outcome, and
// lets the retry policy pick the next status. By the time release runs the
// delivery outcome is already fixed, so failures here are logged and
// swallowed: the worst case is a stale lease, which self-heals once
// leaseExpiresAt passes. Returns nil when the release was swallowed.
func (m *Manager) Release(ctx context.Context, jobID string, outcome domain.Outcome, attempts int, sendErr string, deliveryID string) *ReleaseState {
	var state *ReleaseState
	err := m.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Get(ctx, jobID); err != nil {
			return err
		}

		now := m.now()
		decision := m.policy.NextState(outcome, attempts, now)

		p := store.Patch{
			Status:     &decision.Status,
			Attempts:   &attempts,
			ClearLease: true,
			UpdatedAt:  now,
		}
		switch outcome {
		case domain.OutcomeSent:
			p.ClearLastError = true
			p.SentAt = &now
			if deliveryID != "" {
				p.DeliveryID = &deliveryID
			}
		case domain.OutcomeFailed:
			p.LastError = &sendErr
			if decision.Rearmed {
				p.NotBefore = &decision.NotBefore
			}
		}
		if err := tx.Update(ctx, jobID, p); err != nil {
			return err
		}
		state = &ReleaseState{
			Status:    decision.Status,
			NotBefore: decision.NotBefore,
			Rearmed:   decision.Rearmed,
		}
		return nil
	})
	if err != nil {
		m.log.Warn("lease release failed; lease will expire on its own",
			zap.String("job_id", jobID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
		return nil
	}
	return state
}
