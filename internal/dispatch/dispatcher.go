// Package dispatch filters store change events before they reach the
// processor. The update filter is what keeps the system from feeding on
// its own writes: lease and retry mutations are store updates too, and
// only a genuine transition into "queued" may start an attempt.
package dispatch

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Ruvo-Inc/mailq/internal/domain"
)

// Runner is the processing side the dispatcher hands eligible jobs to.
type Runner interface {
	Process(ctx context.Context, job *domain.Job)
}

type Dispatcher struct {
	environment string
	runner      Runner
	sem         *semaphore.Weighted
	log         *zap.Logger
}

func New(environment string, runner Runner, concurrency int64, log *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		environment: environment,
		runner:      runner,
		sem:         semaphore.NewWeighted(concurrency),
		log:         log,
	}
}

// OnCreated handles a document-created event. Fresh jobs arrive queued;
// anything else (or another environment's job on the shared store) is a
// no-op.
func (d *Dispatcher) OnCreated(ctx context.Context, job *domain.Job) {
	if job.Status != domain.StatusQueued {
		return
	}
	if job.Environment != d.environment {
		return
	}
	d.run(ctx, job)
}

// OnUpdated handles a document-updated event. It fires for every mutation,
// including our own lease and release writes, so only a transition into
// queued (a fresh retry) proceeds. queued→processing and
// processing→sent/failed must never re-invoke the processor.
func (d *Dispatcher) OnUpdated(ctx context.Context, prevStatus domain.Status, job *domain.Job) {
	if prevStatus == domain.StatusQueued || job.Status != domain.StatusQueued {
		return
	}
	if job.Environment != d.environment {
		return
	}
	d.run(ctx, job)
}

// OnDue handles a scheduler nudge for a job whose notBefore or lease
// expiry has passed. The stored status may legitimately still read
// "processing" for an expired lease; the lease transaction is the final
// arbiter either way.
func (d *Dispatcher) OnDue(ctx context.Context, job *domain.Job) {
	if job.Status.Terminal() {
		return
	}
	if job.Environment != d.environment {
		return
	}
	d.run(ctx, job)
}

func (d *Dispatcher) run(ctx context.Context, job *domain.Job) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	go func() {
		defer d.sem.Release(1)
		d.runner.Process(ctx, job)
	}()
}
