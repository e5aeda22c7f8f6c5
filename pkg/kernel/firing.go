package kernel

import (
	"context"
	"sort"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

type decompositionKindError struct{ TaskID string }

func (e *decompositionKindError) Error() string {
	return "unknown decomposition kind on task " + e.TaskID
}

// fireTask implements A.4.3.1 steps 1-2: consume the join tokens, mark the task
// busy, compute its input parameters, and dispatch on its decomposition.
func (r *Runner) fireTask(ctx context.Context, sp *spec.Specification, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task) error {
	consumeJoinTokens(task, net, rs)
	rs.Marking.IncBusy(task.ID)

	input, err := r.evalInputMapping(task, c.DataDocument)
	if err != nil {
		return err
	}

	switch task.Decomposition.Kind {
	case spec.DecompositionNone:
		return r.finishTask(ctx, sp, net, rs, c, task, input)
	case spec.DecompositionAtomic:
		if task.IsMultiInstance() {
			return r.expandMultiInstanceAtomic(ctx, sp, net, rs, c, task, input)
		}
		wi := runtime.NewWorkItem(r.newID(), c.ID, task.ID, -1, input, r.clock())
		wi.RunnerID = rs.RunnerID
		c.WorkItems[wi.ID] = wi
		r.announce(ctx, c, announce.KindWorkItemEnabled, wi.ID, nil, "")
		return nil
	case spec.DecompositionComposite:
		if task.IsMultiInstance() {
			return r.expandMultiInstanceComposite(ctx, sp, rs, c, task, input)
		}
		return r.launchSubNet(ctx, sp, rs, c, task, input, -1)
	default:
		return &decompositionKindError{task.ID}
	}
}

// evalInputMapping computes a task's input parameters from its declared
// DataMapping.Input expressions, evaluated over the case data document.
func (r *Runner) evalInputMapping(task *spec.Task, dataDoc map[string]any) (map[string]any, error) {
	if len(task.DataMapping.Input) == 0 {
		return map[string]any{}, nil
	}
	keys := make([]string, 0, len(task.DataMapping.Input))
	for k := range task.DataMapping.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	env := map[string]any{"data": dataDoc}
	for _, k := range keys {
		val, err := r.eval.EvaluateAny(task.DataMapping.Input[k], env)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// applyOutputMapping merges a task's raw output back into the case data
// document via its declared DataMapping.Output expressions.
func (r *Runner) applyOutputMapping(task *spec.Task, dataDoc map[string]any, rawOutput map[string]any) error {
	if len(task.DataMapping.Output) == 0 {
		return nil
	}
	keys := make([]string, 0, len(task.DataMapping.Output))
	for k := range task.DataMapping.Output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := map[string]any{"data": dataDoc, "output": rawOutput}
	for _, k := range keys {
		val, err := r.eval.EvaluateAny(task.DataMapping.Output[k], env)
		if err != nil {
			return err
		}
		dataDoc[k] = val
	}
	return nil
}

// launchSubNet implements the composite half of A.4.3.1 step 2: it creates a
// proxy work item standing in for the running sub-net, auto-advances it to
// executing (there is no external resource to check it out to), and pushes a
// fresh net runner seeded with a token on the sub-net's input condition.
func (r *Runner) launchSubNet(ctx context.Context, sp *spec.Specification, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, input map[string]any, siblingIndex int) error {
	subNet := sp.Nets[task.Decomposition.SubNetRef]
	if subNet == nil {
		return &yawlerr.SpecificationError{NodeID: task.ID, Detail: "composite decomposition references unknown sub-net " + task.Decomposition.SubNetRef}
	}
	now := r.clock()
	wi := runtime.NewWorkItem(r.newID(), c.ID, task.ID, siblingIndex, input, now)
	wi.RunnerID = rs.RunnerID
	wi.ChildRunnerID = wi.ID + "#sub"
	c.WorkItems[wi.ID] = wi
	if err := CheckOut(wi, "internal:subnet", now); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemFired, wi.ID, nil, "")
	if err := Start(wi, now); err != nil {
		return err
	}
	r.announce(ctx, c, announce.KindWorkItemExecuting, wi.ID, nil, "")

	if siblingIndex >= 0 {
		rs.Children[task.ID] = append(rs.Children[task.ID], wi.ID)
		rs.ChildIndex[wi.ID] = siblingIndex
	}

	child := c.PushRunner(wi.ChildRunnerID, subNet.ID, wi.ID)
	child.Marking.AddToken(subNet.InputConditionID, 1)
	return nil
}

// tryFinishSubNet folds a completed sub-net back into its parent task once the
// sub-net's output condition holds a token and every task within it is idle
// (A.4.3.4's composition, the inverse of launchSubNet).
func (r *Runner) tryFinishSubNet(ctx context.Context, sp *spec.Specification, rs *runtime.RunnerState, net *spec.Net, c *runtime.Case) (bool, error) {
	if rs.Marking.Tokens(net.OutputConditionID) < 1 {
		return false, nil
	}
	for taskID := range net.Tasks {
		if rs.Marking.Busy(taskID) > 0 {
			return false, nil
		}
	}
	wi, ok := c.WorkItems[rs.ParentWorkItemID]
	if !ok {
		return false, yawlerr.ErrWorkItemNotFound
	}
	parentRunner := c.FindRunner(wi.RunnerID)
	if parentRunner == nil {
		return false, yawlerr.ErrNetNotFound
	}
	parentNet := sp.Nets[parentRunner.NetID]
	parentTask := parentNet.Tasks[wi.TaskID]

	c.PopRunner(rs.RunnerID)
	if err := Complete(wi, map[string]any{}, r.clock()); err != nil {
		return false, err
	}
	r.announce(ctx, c, announce.KindWorkItemCompleted, wi.ID, nil, "")
	if err := r.onTaskInstanceDone(ctx, sp, parentNet, parentRunner, c, parentTask, wi, map[string]any{}); err != nil {
		return false, err
	}
	return true, nil
}

// finishTask implements A.4.3.1 steps 3-4 for a single task instance: merge
// output into case data, clear its cancellation region, emit split tokens, and
// release its busy slot. Called once per non-multi-instance task firing, and
// once per multi-instance task once its completion threshold is reached.
func (r *Runner) finishTask(ctx context.Context, sp *spec.Specification, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, rawOutput map[string]any) error {
	if err := r.applyOutputMapping(task, c.DataDocument, rawOutput); err != nil {
		return err
	}
	if err := r.cancelRegion(ctx, net, rs, c, task); err != nil {
		return err
	}
	if err := r.emitSplitTokens(task, net, rs, c); err != nil {
		return err
	}
	rs.Marking.DecBusy(task.ID)
	return nil
}

// onTaskInstanceDone is the single point every "a task instance produced an
// output" path funnels through: ordinary atomic/composite completion goes
// straight to finishTask, while a multi-instance task's child instead updates
// the instance's bookkeeping and only calls finishTask once its threshold is
// met (A.4.3.2).
func (r *Runner) onTaskInstanceDone(ctx context.Context, sp *spec.Specification, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, wi *runtime.WorkItem, rawOutput map[string]any) error {
	if task.IsMultiInstance() {
		return r.completeMultiInstanceChild(ctx, sp, net, rs, c, task, wi, rawOutput)
	}
	return r.finishTask(ctx, sp, net, rs, c, task, rawOutput)
}
