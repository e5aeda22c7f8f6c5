// Package redisqueue implements the idle-eviction tracker the stateless engine
// facade variant's commit strategy writes last-touch instants to (SPEC_FULL.md
// C.5, A.4.6's stateless variant). Idle lists the cases that have gone quiet;
// the engine's IdleEvictor does not call it and sweeps its own in-process map. Grounded on
// internal/infrastructure/cache/redis.go's go-redis/v9 client wrapper.
package redisqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records the last-touched instant of every live in-memory case in a
// single Redis sorted set, scored by Unix nanoseconds, so a periodic sweep can
// ask "which cases have not been touched in longer than the idle timeout"
// with one ZRANGEBYSCORE instead of a per-case TTL key.
type Tracker struct {
	client *redis.Client
	key    string
}

// New creates a Tracker backed by client, storing its sorted set under key
// (e.g. "yawl:idle-cases").
func New(client *redis.Client, key string) *Tracker {
	if key == "" {
		key = "yawl:idle-cases"
	}
	return &Tracker{client: client, key: key}
}

// Touch records that caseID was just active, resetting its idle clock.
func (t *Tracker) Touch(ctx context.Context, caseID string, now time.Time) error {
	return t.client.ZAdd(ctx, t.key, redis.Z{Score: float64(now.UnixNano()), Member: caseID}).Err()
}

// Forget removes caseID from tracking, called by the stateless commit
// strategy's Delete once the case has been evicted.
func (t *Tracker) Forget(ctx context.Context, caseID string) error {
	return t.client.ZRem(ctx, t.key, caseID).Err()
}

// Idle returns every case ID whose last Touch predates now.Add(-timeout), the
// candidates for eviction on this sweep.
func (t *Tracker) Idle(ctx context.Context, now time.Time, timeout time.Duration) ([]string, error) {
	cutoff := now.Add(-timeout).UnixNano()
	return t.client.ZRangeByScore(ctx, t.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
}

// Count reports how many cases are currently tracked, exposed for tests and
// health reporting.
func (t *Tracker) Count(ctx context.Context) (int64, error) {
	return t.client.ZCard(ctx, t.key).Result()
}
