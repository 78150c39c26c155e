package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ruvo-Inc/mailq/internal/config"
	"github.com/Ruvo-Inc/mailq/internal/dispatch"
	"github.com/Ruvo-Inc/mailq/internal/lease"
	"github.com/Ruvo-Inc/mailq/internal/mail"
	"github.com/Ruvo-Inc/mailq/internal/notify"
	"github.com/Ruvo-Inc/mailq/internal/processor"
	"github.com/Ruvo-Inc/mailq/internal/queue"
	"github.com/Ruvo-Inc/mailq/internal/retry"
	"github.com/Ruvo-Inc/mailq/internal/store"
	"github.com/Ruvo-Inc/mailq/internal/store/driver"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := driver.Open(ctx, cfg)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	q := queue.New(rdb)

	creds, err := os.ReadFile(cfg.GmailCredentialsFile)
	if err != nil {
		log.Fatal("read gmail credentials", zap.Error(err))
	}
	transport := mail.NewGmailTransport(creds, cfg.GmailImpersonate)

	policy := retry.New(cfg.MaxAttempts, cfg.RetryBackoff)
	leases := lease.NewManager(st, policy, log)
	proc := processor.New(leases, transport, q, cfg.GmailImpersonate, cfg.MailFromDisplayName, cfg.LeaseDuration, log)
	d := dispatch.New(cfg.EnvironmentTag, proc, cfg.DispatchConcurrency, log)

	g, ctx := errgroup.WithContext(ctx)

	// Event-driven path: Postgres change notifications. Mongo deployments
	// rely on the ready-queue path alone.
	if cfg.StoreDriver == "postgres" {
		listener := notify.NewListener(cfg.PostgresDSN, st, d, log)
		g.Go(func() error { return listener.Run(ctx) })
	}

	// Scheduled path: the scheduler parks due retries and expired leases
	// on the ready list.
	g.Go(func() error { return consumeReady(ctx, cfg, st, q, d, log) })

	log.Info("worker running",
		zap.String("environment", cfg.EnvironmentTag),
		zap.String("store", cfg.StoreDriver))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("worker", zap.Error(err))
	}
	log.Info("worker stopped")
}

func consumeReady(ctx context.Context, cfg config.Config, st store.Store, q *queue.RedisQ, d *dispatch.Dispatcher, log *zap.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id, err := q.PopReady(ctx, cfg.EnvironmentTag, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("ready queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}

		job, err := st.Get(ctx, id)
		if err != nil {
			if err != store.ErrNotFound {
				log.Warn("fetch ready job failed", zap.String("job_id", id), zap.Error(err))
			}
			continue
		}
		d.OnDue(ctx, job)
	}
}
