// Package processor orchestrates one delivery attempt: claim the lease,
// build and submit the message, record the outcome. Side effects per
// invocation are strictly one lease mutation, at most one transport call,
// and one final status write; in-process retries never happen: a failed
// attempt is re-armed by the retry policy for a future invocation.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/lease"
	"github.com/Ruvo-Inc/mailq/internal/mail"
)

// Delayer schedules a re-armed job to be nudged again near its notBefore.
// Optional: without it the scheduler's store scan still picks the job up.
type Delayer interface {
	Delay(ctx context.Context, env, jobID string, at time.Time) error
}

type Processor struct {
	leases        *lease.Manager
	transport     mail.Transport
	delayer       Delayer
	sender        string
	senderName    string
	leaseDuration time.Duration
	log           *zap.Logger
}

// New builds a processor. senderName is the default From display name for
// jobs whose content does not set one.
func New(leases *lease.Manager, transport mail.Transport, delayer Delayer, sender, senderName string, leaseDuration time.Duration, log *zap.Logger) *Processor {
	return &Processor{
		leases:        leases,
		transport:     transport,
		delayer:       delayer,
		sender:        sender,
		senderName:    senderName,
		leaseDuration: leaseDuration,
		log:           log,
	}
}

// Process runs one attempt against an already-fetched snapshot of the job.
// Losing the lease race is the expected outcome under duplicate triggers
// and is not an error.
func (p *Processor) Process(ctx context.Context, job *domain.Job) {
	log := p.log.With(zap.String("job_id", job.ID))

	// Random plus timestamp; collisions across concurrent workers are not
	// a realistic concern.
	ownerToken := fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano())

	res, err := p.leases.Acquire(ctx, job.ID, ownerToken, p.leaseDuration)
	if err != nil {
		log.Error("lease acquisition failed", zap.Error(err))
		return
	}
	switch res {
	case lease.NotFound:
		log.Warn("job vanished before processing")
		return
	case lease.Contended:
		log.Debug("job not eligible, skipping", zap.String("result", res.String()))
		return
	}

	attempts := job.Attempts + 1
	log = log.With(zap.Int("attempt", attempts))

	deliveryID, sendErr := p.attempt(ctx, job)
	if sendErr != nil {
		log.Warn("delivery attempt failed", zap.Error(sendErr))
		state := p.leases.Release(ctx, job.ID, domain.OutcomeFailed, attempts, sendErr.Error(), "")
		p.scheduleRearm(ctx, job, state, log)
		return
	}

	log.Info("message delivered", zap.String("delivery_id", deliveryID))
	p.leases.Release(ctx, job.ID, domain.OutcomeSent, attempts, "", deliveryID)
}

// attempt validates, authenticates and submits. Validation failures take
// the same path as transport errors so they consume an attempt.
func (p *Processor) attempt(ctx context.Context, job *domain.Job) (string, error) {
	if err := job.ValidateContent(); err != nil {
		return "", fmt.Errorf("validation: %w", err)
	}

	raw, err := mail.BuildEnvelope(p.sender, p.senderName, job.Recipients, job.Content)
	if err != nil {
		return "", fmt.Errorf("envelope: %w", err)
	}

	sess, err := p.transport.Authenticate(ctx)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	deliveryID, err := sess.Send(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("transport: %w", err)
	}
	return deliveryID, nil
}

func (p *Processor) scheduleRearm(ctx context.Context, job *domain.Job, state *lease.ReleaseState, log *zap.Logger) {
	if p.delayer == nil || state == nil || !state.Rearmed {
		return
	}
	if err := p.delayer.Delay(ctx, job.Environment, job.ID, state.NotBefore); err != nil {
		// The scheduler's periodic store scan covers a lost nudge.
		log.Warn("failed to schedule retry nudge", zap.Error(err))
	}
}
