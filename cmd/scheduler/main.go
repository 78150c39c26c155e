package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/config"
	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/queue"
	"github.com/Ruvo-Inc/mailq/internal/store/driver"
)

// The scheduler is the nudge side of the system: it never mutates job
// documents. Each tick it moves due delayed retries to the ready list,
// re-enqueues due queued jobs the delay set lost track of, and surfaces
// expired-lease jobs so a worker re-attempts them. The lease transaction
// rejects anything nudged too eagerly.
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

	holder := uuid.NewString()
	env := cfg.EnvironmentTag

	tick := time.NewTicker(cfg.SchedulerInterval)
	defer tick.Stop()

	log.Info("scheduler running", zap.String("environment", env))

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-tick.C:
		}

		// Single leader per tick; lock TTL covers one interval so a dead
		// leader is replaced on the next tick.
		ok, err := q.AcquireLeaderLock(ctx, env, holder, cfg.SchedulerInterval)
		if err != nil {
			log.Warn("leader lock", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		now := time.Now().UTC()

		if err := q.MoveDue(ctx, env, now.Unix(), 200); err != nil {
			log.Warn("move due retries", zap.Error(err))
		}

		due, err := st.ListDue(ctx, env, now, 500)
		if err != nil {
			log.Warn("list due jobs", zap.Error(err))
		} else if err := q.PushReady(ctx, env, ids(due)...); err != nil {
			log.Warn("re-enqueue due jobs", zap.Error(err))
		}

		expired, err := st.ListExpiredLeases(ctx, env, now, 500)
		if err != nil {
			log.Warn("list expired leases", zap.Error(err))
		} else if err := q.PushReady(ctx, env, ids(expired)...); err != nil {
			log.Warn("re-dispatch expired leases", zap.Error(err))
		}
	}
}

func ids(jobs []*domain.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
