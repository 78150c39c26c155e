package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/retry"
	"github.com/Ruvo-Inc/mailq/internal/store/memory"
)

func str(s string) *string { return &s }

func newManager(t *testing.T) (*Manager, *memory.Store) {
	t.Helper()
	st := memory.New()
	p := retry.New(5, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second})
	return NewManager(st, p, zap.NewNop()), st
}

func seedJob(t *testing.T, st *memory.Store) string {
	t.Helper()
	j := &domain.Job{
		Recipients:  domain.Recipients{To: []string{"a@example.com"}},
		Content:     domain.Content{Subject: "s", Text: str("b")},
		Environment: "prod",
	}
	id, err := st.Create(context.Background(), j)
	require.NoError(t, err)
	return id
}

func TestAcquireFreshQueuedJob(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "owner-1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)

	j, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, j.Status)
	require.NotNil(t, j.LeaseOwner)
	assert.Equal(t, "owner-1", *j.LeaseOwner)
	require.NotNil(t, j.LeaseExpiresAt)
	assert.True(t, j.LeaseExpiresAt.After(time.Now().UTC().Add(4*time.Minute)))
}

func TestAcquireContendedWhileLeaseLive(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "owner-1", 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)

	res, err = m.Acquire(ctx, id, "owner-2", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Contended, res)

	j, _ := st.Get(ctx, id)
	assert.Equal(t, "owner-1", *j.LeaseOwner)
}

// Concurrent acquisitions racing on the same eligible job: exactly one
// caller may win.
func TestAcquireMutualExclusion(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	const callers = 50
	var wg sync.WaitGroup
	results := make(chan AcquireResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := m.Acquire(ctx, id, "owner", 5*time.Minute)
			assert.NoError(t, err)
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)

	acquired := 0
	for res := range results {
		if res == Acquired {
			acquired++
		}
	}
	assert.Equal(t, 1, acquired)
}

// An expired lease never blocks acquisition, even while the stored status
// still reads processing.
func TestAcquireSelfHealsExpiredLease(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "dead-worker", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)

	// Move the manager's clock past the expiry instead of waiting.
	m.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	res, err = m.Acquire(ctx, id, "live-worker", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)

	j, _ := st.Get(ctx, id)
	assert.Equal(t, "live-worker", *j.LeaseOwner)
}

func TestAcquireRespectsNotBefore(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()

	j := &domain.Job{
		Recipients:  domain.Recipients{To: []string{"a@example.com"}},
		Content:     domain.Content{Subject: "s", Text: str("b")},
		Environment: "prod",
		NotBefore:   time.Now().UTC().Add(time.Hour),
	}
	id, err := st.Create(ctx, j)
	require.NoError(t, err)

	res, err := m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Contended, res)

	// Past the scheduled time it becomes eligible.
	m.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	res, err = m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)
}

func TestAcquireNotFound(t *testing.T) {
	m, _ := newManager(t)
	res, err := m.Acquire(context.Background(), "missing", "owner", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res)
}

func TestAcquireRejectsTerminalStatus(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	// Drive the job to sent through the normal path.
	res, err := m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)
	require.NotNil(t, m.Release(ctx, id, domain.OutcomeSent, 1, "", "msg-1"))

	res, err = m.Acquire(ctx, id, "owner-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Contended, res)
}

func TestReleaseSent(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)

	state := m.Release(ctx, id, domain.OutcomeSent, 1, "", "delivery-42")
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusSent, state.Status)
	assert.False(t, state.Rearmed)

	j, _ := st.Get(ctx, id)
	assert.Equal(t, domain.StatusSent, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Nil(t, j.LastError)
	assert.Nil(t, j.LeaseOwner)
	assert.Nil(t, j.LeaseExpiresAt)
	require.NotNil(t, j.DeliveryID)
	assert.Equal(t, "delivery-42", *j.DeliveryID)
	assert.NotNil(t, j.SentAt)
}

func TestReleaseFailedRearms(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)

	state := m.Release(ctx, id, domain.OutcomeFailed, 1, "smtp 550", "")
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusQueued, state.Status)
	assert.True(t, state.Rearmed)

	j, _ := st.Get(ctx, id)
	assert.Equal(t, domain.StatusQueued, j.Status)
	assert.Equal(t, 1, j.Attempts)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "smtp 550", *j.LastError)
	assert.Nil(t, j.LeaseOwner)
	// First failure uses the first backoff entry.
	assert.WithinDuration(t, time.Now().UTC().Add(time.Second), j.NotBefore, 2*time.Second)
}

func TestReleaseExhaustedIsTerminal(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	res, err := m.Acquire(ctx, id, "owner", time.Minute)
	require.NoError(t, err)
	require.Equal(t, Acquired, res)

	before, _ := st.Get(ctx, id)
	state := m.Release(ctx, id, domain.OutcomeFailed, 5, "gave up", "")
	require.NotNil(t, state)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.False(t, state.Rearmed)

	j, _ := st.Get(ctx, id)
	assert.Equal(t, domain.StatusFailed, j.Status)
	assert.Equal(t, 5, j.Attempts)
	// notBefore untouched on the terminal transition.
	assert.Equal(t, before.NotBefore, j.NotBefore)

	// Terminal finality: no later acquisition can revive it.
	res, err = m.Acquire(ctx, id, "owner-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Contended, res)
}

// attempts only ever grows across the acquire/release cycle.
func TestAttemptMonotonicity(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	id := seedJob(t, st)

	prev := 0
	for attempt := 1; attempt <= 4; attempt++ {
		// Jobs re-armed with a future notBefore; jump the clock past it.
		offset := time.Duration(attempt) * time.Hour
		m.now = func() time.Time { return time.Now().UTC().Add(offset) }

		res, err := m.Acquire(ctx, id, "owner", time.Minute)
		require.NoError(t, err)
		require.Equal(t, Acquired, res, "attempt %d", attempt)

		m.Release(ctx, id, domain.OutcomeFailed, attempt, "boom", "")
		j, _ := st.Get(ctx, id)
		assert.GreaterOrEqual(t, j.Attempts, prev)
		prev = j.Attempts
	}
	assert.Equal(t, 4, prev)
}
