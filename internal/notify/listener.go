// Package notify turns Postgres NOTIFY events from the mail_jobs trigger
// into dispatcher calls. It holds a dedicated connection for LISTEN and
// reconnects with a flat delay when the connection drops; a missed event
// during reconnection is covered by the scheduler's store scan.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/dispatch"
	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
)

const channel = "mail_jobs_events"

// event is the payload produced by the mail_jobs_notify trigger.
type event struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	Environment string `json:"environment"`
	OldStatus   string `json:"old_status,omitempty"`
	NewStatus   string `json:"new_status"`
}

type Listener struct {
	dsn        string
	store      store.Store
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
}

func NewListener(dsn string, st store.Store, d *dispatch.Dispatcher, log *zap.Logger) *Listener {
	return &Listener{dsn: dsn, store: st, dispatcher: d, log: log}
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("listener connection lost, reconnecting", zap.Error(err))
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "listen "+channel); err != nil {
		return err
	}
	l.log.Info("listening for job events", zap.String("channel", channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.log.Warn("undecodable job event", zap.String("payload", payload), zap.Error(err))
		return
	}

	job, err := l.store.Get(ctx, ev.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return
		}
		l.log.Warn("fetch job for event failed", zap.String("job_id", ev.ID), zap.Error(err))
		return
	}

	switch ev.Op {
	case "INSERT":
		l.dispatcher.OnCreated(ctx, job)
	case "UPDATE":
		l.dispatcher.OnUpdated(ctx, domain.Status(ev.OldStatus), job)
	}
}
