package engine

import (
	"context"

	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/timer"
)

// RunTimers drains sched's Events channel and feeds each due timer into its
// owning case through the usual lock-mutate-commit-flush sequence, until ctx
// is cancelled. Intended to be launched as a goroutine alongside
// sched.Run (see pkg/timer.Scheduler.Run) from cmd/server.
func (e *Engine) RunTimers(ctx context.Context, sched *timer.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sched.Events():
			if !ok {
				return
			}
			_ = e.withCase(ctx, ev.CaseID, func(c *runtime.Case) error {
				sp, err := e.specFor(c)
				if err != nil {
					return err
				}
				return e.runner.HandleTimerExpiry(ctx, sp, c, ev.WorkItemID)
			})
		}
	}
}
