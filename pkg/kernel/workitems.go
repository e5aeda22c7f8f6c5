package kernel

import (
	"context"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// resolveWorkItem locates a work item and the net/runner/task it belongs to,
// the lookup every externally-triggered lifecycle operation below needs first.
func resolveWorkItem(sp *spec.Specification, c *runtime.Case, workItemID string) (*runtime.WorkItem, *runtime.RunnerState, *spec.Net, *spec.Task, error) {
	wi, ok := c.WorkItems[workItemID]
	if !ok {
		return nil, nil, nil, nil, yawlerr.ErrWorkItemNotFound
	}
	rs := c.FindRunner(wi.RunnerID)
	if rs == nil {
		return nil, nil, nil, nil, yawlerr.ErrNetNotFound
	}
	net := sp.Nets[rs.NetID]
	if net == nil {
		return nil, nil, nil, nil, yawlerr.ErrNetNotFound
	}
	task := net.Tasks[wi.TaskID]
	if task == nil {
		return nil, nil, nil, nil, yawlerr.ErrTaskNotFound
	}
	return wi, rs, net, task, nil
}

// CheckOutWorkItem assigns an enabled work item to an external resource handle
// (A.4.6's checkOutWorkItem).
func (r *Runner) CheckOutWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID, resourceHandle string) error {
	wi, _, _, _, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := CheckOut(wi, resourceHandle, r.clock()); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemFired, wi.ID, nil, "")
	return nil
}

// StartWorkItem moves a fired work item to executing.
func (r *Runner) StartWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string) error {
	wi, _, _, _, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Start(wi, r.clock()); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemExecuting, wi.ID, nil, "")
	return nil
}

// SuspendWorkItem moves an executing work item to suspended.
func (r *Runner) SuspendWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string) error {
	wi, _, _, _, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Suspend(wi, r.clock()); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemSuspended, wi.ID, nil, "")
	return nil
}

// ResumeWorkItem moves a suspended work item back to executing.
func (r *Runner) ResumeWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string) error {
	wi, _, _, _, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Resume(wi, r.clock()); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemResumed, wi.ID, nil, "")
	return nil
}

// CompleteWorkItem is the external check-in path (A.4.6's checkInWorkItem): an
// atomic task's handler reports its result, the output is merged into case
// data, the task's split/cancellation effects run, and the case is driven
// forward to its next fixed point.
func (r *Runner) CompleteWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string, output map[string]any) error {
	wi, rs, net, task, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Complete(wi, output, r.clock()); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemCompleted, wi.ID, output, "")
	if err := r.onTaskInstanceDone(ctx, sp, net, rs, c, task, wi, output); err != nil {
		return err
	}
	return r.Continue(ctx, sp, c)
}

// FailWorkItem implements the `fail` transition (A.7's ExternalHandlerFailure):
// the work item moves to the terminal failed state and the task instance
// produces no output tokens, leaving the case to eventually deadlock or be
// resolved by cancellation.
func (r *Runner) FailWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID, reason string) error {
	wi, rs, _, task, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Fail(wi, reason, r.clock()); err != nil {
		return err
	}
	rs.Marking.DecBusy(task.ID)
	r.announce(ctx, c, announce.KindWorkItemFailed, wi.ID, map[string]any{"reason": reason}, reason)
	return r.Continue(ctx, sp, c)
}

// CancelWorkItem force-cancels a single work item outside of a cancellation
// region (e.g. an operator-initiated cancel): it releases the task's busy slot
// without emitting any output tokens, tearing down any sub-net it had launched.
func (r *Runner) CancelWorkItem(ctx context.Context, sp *spec.Specification, c *runtime.Case, workItemID string) error {
	wi, rs, _, task, err := resolveWorkItem(sp, c, workItemID)
	if err != nil {
		return err
	}
	if err := Cancel(wi, r.clock()); err != nil {
		return err
	}
	rs.Marking.DecBusy(task.ID)
	r.announce(ctx, c, announce.KindWorkItemCancelled, wi.ID, nil, "cancelled by operator")
	if wi.ChildRunnerID != "" {
		r.tearDownSubNet(ctx, c, wi.ChildRunnerID)
	}
	return r.Continue(ctx, sp, c)
}

// CancelCase cancels every non-terminal work item in every active runner and
// marks the case cancelled, per A.4.6's cancelCase.
func (r *Runner) CancelCase(ctx context.Context, sp *spec.Specification, c *runtime.Case) error {
	now := r.clock()
	for _, wi := range c.WorkItems {
		if wi.Status.IsTerminal() {
			continue
		}
		if err := Cancel(wi, now); err != nil {
			return err
		}
		r.announce(ctx, c, announce.KindWorkItemCancelled, wi.ID, nil, "cancelled: case cancelled")
	}
	c.Status = runtime.CaseCancelled
	c.Cancelling = false
	r.announce(ctx, c, announce.KindCaseCancelled, "", nil, "")
	return nil
}

// SuspendCase sets the case's Suspended flag and suspended status; no work
// item changes status, so an in-flight external handler is not disrupted
// (A.4.6's suspendCase).
func (r *Runner) SuspendCase(ctx context.Context, c *runtime.Case) error {
	c.Suspended = true
	c.Status = runtime.CaseSuspended
	r.announce(ctx, c, announce.KindCaseSuspended, "", nil, "")
	return nil
}

// ResumeCase reverses SuspendCase and resumes forward progress.
func (r *Runner) ResumeCase(ctx context.Context, sp *spec.Specification, c *runtime.Case) error {
	c.Suspended = false
	c.Status = runtime.CaseRunning
	r.announce(ctx, c, announce.KindCaseResumed, "", nil, "")
	return r.Continue(ctx, sp, c)
}
