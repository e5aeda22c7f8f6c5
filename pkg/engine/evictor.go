package engine

import (
	"context"
	"sync"
	"time"
)

// IdleEvictor periodically drops stateless-variant cases that have gone quiet
// for longer than Timeout, per SPEC_FULL.md C.5 ("stateless cases are
// idle-evicted, not persisted"). It keeps its own in-process last-touch map,
// fed by the Engine's Touch calls; it does not read the CommitStrategy's
// bookkeeping or any redisqueue.Tracker.
type IdleEvictor struct {
	engine  *Engine
	timeout time.Duration

	mu        sync.Mutex
	lastTouch map[string]time.Time
}

// NewIdleEvictor builds an evictor for engine using a local, in-process
// last-touch map. Pair this with NewStatelessCommit(nil) when no Redis is
// available. Only cases touched through this process's Engine are seen; the
// evictor does not sweep a shared redisqueue.Tracker.
func NewIdleEvictor(e *Engine, timeout time.Duration) *IdleEvictor {
	return &IdleEvictor{
		engine:    e,
		timeout:   timeout,
		lastTouch: make(map[string]time.Time),
	}
}

// Touch records activity for caseID, called by the engine facade after every
// successful mutation (mirrors CommitStrategy.Touch, kept separate so a
// process without Redis still tracks idleness locally).
func (v *IdleEvictor) Touch(caseID string, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastTouch[caseID] = now
}

// Forget drops caseID from tracking, called once it is evicted.
func (v *IdleEvictor) Forget(caseID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.lastTouch, caseID)
}

// Sweep evicts every case untouched since before now.Add(-timeout) and returns
// the evicted case IDs. Intended to run on a ticker from cmd/server.
func (v *IdleEvictor) Sweep(ctx context.Context, now time.Time) []string {
	v.mu.Lock()
	var idle []string
	for caseID, last := range v.lastTouch {
		if now.Sub(last) >= v.timeout {
			idle = append(idle, caseID)
		}
	}
	v.mu.Unlock()

	var evicted []string
	for _, caseID := range idle {
		if err := v.engine.evictCase(ctx, caseID); err != nil {
			continue
		}
		v.Forget(caseID)
		evicted = append(evicted, caseID)
	}
	return evicted
}

// Run sweeps on the given interval until ctx is cancelled. Intended to be
// launched as a goroutine by cmd/server for the stateless facade variant.
func (v *IdleEvictor) Run(ctx context.Context, interval time.Duration, clock func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Sweep(ctx, clock())
		}
	}
}
