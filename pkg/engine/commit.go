package engine

import (
	"context"
	"time"

	"github.com/yawl-engine/core/pkg/persistence"
	"github.com/yawl-engine/core/pkg/persistence/redisqueue"
	"github.com/yawl-engine/core/pkg/runtime"
)

// CommitStrategy is the single seam distinguishing the engine facade's two
// variants (SPEC_FULL.md A.9's design note: "share the kernel, differ only in
// how a completed mutation is made durable"). The persistent variant writes
// every mutation through a persistence.Adapter; the stateless variant commits
// nothing, optionally just recording activity for idle-eviction bookkeeping.
type CommitStrategy interface {
	// Commit durably records c's current state. Returning an error leaves the
	// in-memory case as it was before the triggering mutation: the caller rolls
	// it back to the pre-mutation snapshot (A.7).
	Commit(ctx context.Context, c *runtime.Case) error
	// Delete removes any durable record of caseID, called once a case is
	// evicted or explicitly purged.
	Delete(ctx context.Context, caseID string) error
	// Touch records that caseID was just active, for idle-eviction tracking.
	// The persistent variant's cases are never idle-evicted, so this is a no-op
	// there.
	Touch(ctx context.Context, caseID string, now time.Time)
}

// persistentCommit writes every mutation through a persistence.Adapter inside
// its own transaction, per A.6.4.
type persistentCommit struct {
	adapter persistence.Adapter
}

// NewPersistentCommit builds the commit strategy for the persistent engine
// facade variant.
func NewPersistentCommit(adapter persistence.Adapter) CommitStrategy {
	return &persistentCommit{adapter: adapter}
}

func (p *persistentCommit) Commit(ctx context.Context, c *runtime.Case) error {
	snapshot, err := c.Snapshot()
	if err != nil {
		return err
	}
	tx, err := p.adapter.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := p.adapter.SaveCase(ctx, tx, c.ID, snapshot); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (p *persistentCommit) Delete(ctx context.Context, caseID string) error {
	tx, err := p.adapter.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := p.adapter.DeleteCase(ctx, tx, caseID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (p *persistentCommit) Touch(context.Context, string, time.Time) {}

// statelessCommit never persists anything: the case lives only in the
// in-process map the facade holds, and is dropped entirely once idle for too
// long (A.4.6's stateless variant). An optional redisqueue.Tracker records
// last-touch instants so an external sweep can find eviction candidates across
// a fleet of stateless engine instances sharing one Redis.
type statelessCommit struct {
	tracker *redisqueue.Tracker
}

// NewStatelessCommit builds the commit strategy for the stateless engine
// facade variant. tracker may be nil, in which case idle-eviction relies
// purely on this process's own in-memory clock (see IdleEvictor).
func NewStatelessCommit(tracker *redisqueue.Tracker) CommitStrategy {
	return &statelessCommit{tracker: tracker}
}

func (s *statelessCommit) Commit(context.Context, *runtime.Case) error { return nil }

func (s *statelessCommit) Delete(ctx context.Context, caseID string) error {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Forget(ctx, caseID)
}

func (s *statelessCommit) Touch(ctx context.Context, caseID string, now time.Time) {
	if s.tracker == nil {
		return
	}
	_ = s.tracker.Touch(ctx, caseID, now)
}
