// Package queue is the Redis plumbing for scheduled retries. Re-armed jobs
// land in a per-environment delay ZSET scored by their notBefore; the
// scheduler moves due members onto a ready list that the worker drains.
// Redis is a nudge channel only; the job document in the store stays
// authoritative, and the lease transaction rejects anything Redis wakes up
// too eagerly.
package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

func delayKey(env string) string { return "mailq:delay:" + env }
func readyKey(env string) string { return "mailq:ready:" + env }

// Delay schedules jobID to become ready at the given time. A past time
// goes straight onto the ready list.
func (q *RedisQ) Delay(ctx context.Context, env, jobID string, at time.Time) error {
	if time.Until(at) > 0 {
		return q.rdb.ZAdd(ctx, delayKey(env), r.Z{Score: float64(at.Unix()), Member: jobID}).Err()
	}
	return q.rdb.LPush(ctx, readyKey(env), jobID).Err()
}

// PushReady puts job ids directly on the ready list.
func (q *RedisQ) PushReady(ctx context.Context, env string, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range jobIDs {
		pipe.LPush(ctx, readyKey(env), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PopReady blocks up to the given duration for the next ready job id.
// Returns "" on timeout.
func (q *RedisQ) PopReady(ctx context.Context, env string, block time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey(env)).Result()
	if err == r.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

// MoveDue shifts up to batch due members from the delay set to the ready
// list.
func (q *RedisQ) MoveDue(ctx context.Context, env string, now int64, batch int64) error {
	ids, err := q.rdb.ZRangeByScore(ctx, delayKey(env), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, readyKey(env), id)
		pipe.ZRem(ctx, delayKey(env), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// AcquireLeaderLock takes the scheduler leader lock for ttl. Returns true
// when this process is the leader for the current tick.
func (q *RedisQ) AcquireLeaderLock(ctx context.Context, env, holder string, ttl time.Duration) (bool, error) {
	return q.rdb.SetNX(ctx, "mailq:leader:"+env, holder, ttl).Result()
}
