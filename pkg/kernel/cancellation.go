package kernel

import (
	"context"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
)

// cancelRegion implements A.4.3.4: when task fires, every node named in its
// CancellationRegion is cleared atomically before output tokens are emitted.
// A condition in the region loses any tokens it holds; a task in the region has
// every non-terminal work item force-cancelled and its busy/enabled counts
// reset, cascading into any sub-net that task's work items had launched.
func (r *Runner) cancelRegion(ctx context.Context, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task) error {
	if len(task.CancellationRegion) == 0 {
		return nil
	}
	now := r.clock()
	for _, nodeID := range task.CancellationRegion {
		if _, isCondition := net.Conditions[nodeID]; isCondition {
			rs.Marking.ConditionTokens[nodeID] = 0
			continue
		}
		if _, isTask := net.Tasks[nodeID]; !isTask {
			continue
		}
		for _, wi := range c.WorkItems {
			if wi.RunnerID != rs.RunnerID || wi.TaskID != nodeID || wi.Status.IsTerminal() {
				continue
			}
			if err := Cancel(wi, now); err != nil {
				return err
			}
			r.announce(ctx, c, announce.KindWorkItemCancelled, wi.ID, nil, "cancelled by cancellation region of "+task.ID)
			if wi.ChildRunnerID != "" {
				r.tearDownSubNet(ctx, c, wi.ChildRunnerID)
			}
		}
		rs.Marking.TaskBusy[nodeID] = 0
		rs.Marking.TaskEnabled[nodeID] = 0
	}
	return nil
}

// tearDownSubNet recursively cancels every live work item in a sub-net
// instance (and any further nested sub-nets it launched) and removes the
// runner from the case's stack, used when a cancellation region reaches a
// composite task that is currently executing.
func (r *Runner) tearDownSubNet(ctx context.Context, c *runtime.Case, runnerID string) {
	if c.FindRunner(runnerID) == nil {
		return
	}
	now := r.clock()
	for _, wi := range c.WorkItems {
		if wi.RunnerID != runnerID || wi.Status.IsTerminal() {
			continue
		}
		if err := Cancel(wi, now); err != nil {
			continue
		}
		r.announce(ctx, c, announce.KindWorkItemCancelled, wi.ID, nil, "cancelled by ancestor cancellation region")
		if wi.ChildRunnerID != "" {
			r.tearDownSubNet(ctx, c, wi.ChildRunnerID)
		}
	}
	c.PopRunner(runnerID)
}
