package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/dispatch"
	"github.com/Ruvo-Inc/mailq/internal/domain"
)

// recordingRunner counts Process invocations; the dispatcher runs them on
// goroutines, so observations go through waitForCalls.
type recordingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRunner) Process(_ context.Context, job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, job.ID)
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingRunner) waitForCalls(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if r.count() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d calls, have %d", want, r.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// settle gives any stray goroutine a moment to land before asserting a
// no-op.
func settle() { time.Sleep(50 * time.Millisecond) }

func job(id string, env string, status domain.Status) *domain.Job {
	return &domain.Job{ID: id, Environment: env, Status: status}
}

func TestOnCreatedDispatchesQueuedJob(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())

	d.OnCreated(context.Background(), job("j1", "prod", domain.StatusQueued))
	r.waitForCalls(t, 1)
}

func TestOnCreatedFilters(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())
	ctx := context.Background()

	d.OnCreated(ctx, job("j1", "staging", domain.StatusQueued))
	d.OnCreated(ctx, job("j2", "prod", domain.StatusProcessing))
	d.OnCreated(ctx, job("j3", "prod", domain.StatusSent))

	settle()
	assert.Equal(t, 0, r.count())
}

func TestOnUpdatedDispatchesFreshRetry(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())

	// failed -> queued is a genuine transition into eligibility.
	d.OnUpdated(context.Background(), domain.StatusProcessing, job("j1", "prod", domain.StatusQueued))
	r.waitForCalls(t, 1)
}

// The lease manager's and retry policy's own writes must never re-invoke
// the processor.
func TestOnUpdatedNeverSelfTriggers(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())
	ctx := context.Background()

	// Lease acquisition: queued -> processing.
	d.OnUpdated(ctx, domain.StatusQueued, job("j1", "prod", domain.StatusProcessing))
	// Release on success: processing -> sent.
	d.OnUpdated(ctx, domain.StatusProcessing, job("j1", "prod", domain.StatusSent))
	// Terminal failure: processing -> failed.
	d.OnUpdated(ctx, domain.StatusProcessing, job("j1", "prod", domain.StatusFailed))
	// Touch that keeps the job queued is not a transition in.
	d.OnUpdated(ctx, domain.StatusQueued, job("j1", "prod", domain.StatusQueued))

	settle()
	assert.Equal(t, 0, r.count())
}

func TestOnUpdatedFiltersEnvironment(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())

	d.OnUpdated(context.Background(), domain.StatusProcessing, job("j1", "staging", domain.StatusQueued))
	settle()
	assert.Equal(t, 0, r.count())
}

func TestOnDue(t *testing.T) {
	r := &recordingRunner{}
	d := dispatch.New("prod", r, 4, zap.NewNop())
	ctx := context.Background()

	// Stale processing with an expired lease is still dispatchable; the
	// lease transaction decides.
	d.OnDue(ctx, job("j1", "prod", domain.StatusProcessing))
	d.OnDue(ctx, job("j2", "prod", domain.StatusQueued))
	r.waitForCalls(t, 2)

	d.OnDue(ctx, job("j3", "prod", domain.StatusSent))
	d.OnDue(ctx, job("j4", "prod", domain.StatusFailed))
	d.OnDue(ctx, job("j5", "staging", domain.StatusQueued))
	settle()
	assert.Equal(t, 2, r.count())
}
