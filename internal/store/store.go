// Package store defines the persistence contract for mail jobs. The job
// document is the only shared mutable resource in the system; every
// correctness-relevant mutation goes through RunTransaction so the store's
// isolation, not in-process locking, serializes racing workers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Ruvo-Inc/mailq/internal/domain"
)

var (
	// ErrNotFound is returned when a job id does not exist. Callers that
	// need to distinguish "gone" from "contended" branch on this.
	ErrNotFound = errors.New("mailq: job not found")
)

// Patch is a partial update applied to a job document inside a
// transaction. Nil pointer fields are left untouched; the Clear flags
// express explicit removal so "unset the lease" never collides with
// "don't touch the lease".
type Patch struct {
	Status         *domain.Status
	Attempts       *int
	LastError      *string
	ClearLastError bool
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
	ClearLease     bool
	NotBefore      *time.Time
	DeliveryID     *string
	SentAt         *time.Time
	UpdatedAt      time.Time
}

// Tx is a single atomic read-modify-write scope over job documents.
type Tx interface {
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Update applies a patch to the job. ErrNotFound if it vanished.
	Update(ctx context.Context, id string, p Patch) error
}

// Store is the document-store handle the core components receive by
// injection. Implementations must give RunTransaction at least
// read-committed isolation with a row/document claim, so that two
// concurrent transactions on the same job cannot both observe the
// pre-image.
type Store interface {
	// Create persists a new job and returns its id. Status, timestamps and
	// id are assigned by the store.
	Create(ctx context.Context, j *domain.Job) (string, error)

	// Get returns a snapshot of the job or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// RunTransaction executes fn inside one atomic transaction. An error
	// from fn aborts the transaction and is returned unchanged.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListDue returns queued jobs in the environment whose notBefore has
	// passed, oldest first.
	ListDue(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error)

	// ListExpiredLeases returns jobs still marked processing whose lease
	// expired before now. Their stored status is stale on purpose; the
	// lease transaction treats them as queued.
	ListExpiredLeases(ctx context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error)

	// ListByStatus returns jobs in the environment with the given status,
	// newest first.
	ListByStatus(ctx context.Context, environment string, status domain.Status, limit int) ([]*domain.Job, error)

	Ping(ctx context.Context) error
	Close() error
}
