// Package memory is a fully in-memory store.Store. Safe for concurrent
// use; intended for unit tests and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func New() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

func (m *Store) Create(_ context.Context, j *domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cp := *j
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = domain.StatusQueued
	}
	if cp.NotBefore.IsZero() {
		cp.NotBefore = now
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.jobs[cp.ID] = &cp
	*j = cp
	return cp.ID, nil
}

func (m *Store) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// RunTransaction holds the store lock for the whole callback, which gives
// the same read-modify-write atomicity per job that the real stores get
// from row locks and sessions.
func (m *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	shadow := make(map[string]*domain.Job, len(m.jobs))
	for id, j := range m.jobs {
		cp := *j
		shadow[id] = &cp
	}
	if err := fn(ctx, &memTx{jobs: shadow}); err != nil {
		return err
	}
	m.jobs = shadow
	return nil
}

type memTx struct{ jobs map[string]*domain.Job }

func (t *memTx) Get(_ context.Context, id string) (*domain.Job, error) {
	j, ok := t.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (t *memTx) Update(_ context.Context, id string, p store.Patch) error {
	j, ok := t.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	applyPatch(j, p)
	return nil
}

func applyPatch(j *domain.Job, p store.Patch) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Attempts != nil {
		j.Attempts = *p.Attempts
	}
	if p.LastError != nil {
		j.LastError = p.LastError
	}
	if p.ClearLastError {
		j.LastError = nil
	}
	if p.LeaseOwner != nil {
		j.LeaseOwner = p.LeaseOwner
	}
	if p.LeaseExpiresAt != nil {
		j.LeaseExpiresAt = p.LeaseExpiresAt
	}
	if p.ClearLease {
		j.LeaseOwner = nil
		j.LeaseExpiresAt = nil
	}
	if p.NotBefore != nil {
		j.NotBefore = *p.NotBefore
	}
	if p.DeliveryID != nil {
		j.DeliveryID = p.DeliveryID
	}
	if p.SentAt != nil {
		j.SentAt = p.SentAt
	}
	if !p.UpdatedAt.IsZero() {
		j.UpdatedAt = p.UpdatedAt
	} else {
		j.UpdatedAt = time.Now().UTC()
	}
}

func (m *Store) ListDue(_ context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Environment == environment && j.Status == domain.StatusQueued && !j.NotBefore.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListExpiredLeases(_ context.Context, environment string, now time.Time, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Environment == environment && j.Status == domain.StatusProcessing &&
			j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ListByStatus(_ context.Context, environment string, status domain.Status, limit int) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Environment == environment && j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) Ping(_ context.Context) error { return nil }
func (m *Store) Close() error                 { return nil }
