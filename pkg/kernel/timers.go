package kernel

import (
	"context"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// HandleTimerExpiry processes a due timer exactly like a work item completion
// under the case lock (A.5): it announces timer_fired; a still-enabled work
// item is first checked out by the timer (timer_checkout, announced as
// workitem_fired), and a fired or executing work item is then failed with a
// TimeoutSignal reason so the case proceeds to deadlock resolution or
// cancellation the same way any other external handler failure would. A
// suspended work item cannot be failed and yields a StateError. A timer whose
// work item has already reached a terminal state (the handler finished before
// the deadline fired) is a no-op report, not an error: the race is expected
// and benign.
func (r *Runner) HandleTimerExpiry(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string) error {
	r.announce(ctx, c, announce.KindTimerFired, workItemID, nil, "")

	wi, ok := c.WorkItems[workItemID]
	if !ok {
		return yawlerr.ErrWorkItemNotFound
	}
	if wi.Status.IsTerminal() {
		return nil
	}
	if wi.Status == runtime.WorkItemEnabled {
		if err := transition(wi, "timer_checkout", r.clock()); err != nil {
			return err
		}
		r.announce(ctx, c, announce.KindWorkItemFired, wi.ID, nil, "")
	}
	signal := yawlerr.TimeoutSignal{CaseID: c.ID, WorkItemID: workItemID}
	return r.FailWorkItem(ctx, sp, c, workItemID, signal.String())
}
