package kernel

import (
	"context"
	"sort"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// miAccessorItems evaluates a multi-instance task's accessor expression against
// the case data document, producing the item collection each child instance is
// spawned from (A.4.3.2 step 1).
func (r *Runner) miAccessorItems(task *spec.Task, dataDoc map[string]any) ([]any, error) {
	items, err := r.eval.EvaluateSlice(task.MultiInstance.Accessor, dataDoc)
	if err != nil {
		return nil, err
	}
	mi := task.MultiInstance
	if mi.Max > 0 && len(items) > mi.Max {
		items = items[:mi.Max]
	}
	if len(items) < mi.Min {
		return nil, &yawlerr.SpecificationError{NodeID: task.ID, Detail: "multi-instance accessor produced fewer items than the declared minimum"}
	}
	return items, nil
}

// miSplitterInput evaluates the per-child splitter expression, or falls back to
// binding the raw item under "item" when no splitter is declared.
func (r *Runner) miSplitterInput(task *spec.Task, dataDoc map[string]any, item any, index, total int) (map[string]any, error) {
	if task.MultiInstance.Splitter == "" {
		return map[string]any{"item": item}, nil
	}
	env := map[string]any{"data": dataDoc, "item": item, "index": index, "total": total}
	val, err := r.eval.EvaluateAny(task.MultiInstance.Splitter, env)
	if err != nil {
		return nil, err
	}
	if m, ok := val.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"item": val}, nil
}

// expandMultiInstanceAtomic creates the full set of atomic child work items for
// a multi-instance task at fire time (A.4.3.2). Static creation spawns exactly
// len(items) children up front; dynamic creation is honored the same way at
// fire time; no children are added after firing, so a dynamic task is never
// topped up towards Max.
func (r *Runner) expandMultiInstanceAtomic(ctx context.Context, sp *spec.Specification, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, _ map[string]any) error {
	items, err := r.miAccessorItems(task, c.DataDocument)
	if err != nil {
		return err
	}
	total := len(items)
	for i, item := range items {
		input, err := r.miSplitterInput(task, c.DataDocument, item, i, total)
		if err != nil {
			return err
		}
		wi := runtime.NewWorkItem(r.newID(), c.ID, task.ID, i, input, r.clock())
		wi.RunnerID = rs.RunnerID
		c.WorkItems[wi.ID] = wi
		rs.Children[task.ID] = append(rs.Children[task.ID], wi.ID)
		rs.ChildIndex[wi.ID] = i
		r.announce(ctx, c, announce.KindWorkItemEnabled, wi.ID, nil, "")
	}
	if total == 0 {
		// No items at all: the task instance is vacuously done immediately.
		return r.finishTask(ctx, sp, net, rs, c, task, map[string]any{"results": []any{}})
	}
	return nil
}

// expandMultiInstanceComposite is the sub-net analogue of
// expandMultiInstanceAtomic: one child net runner per accessor item, each
// parented by its own proxy work item.
func (r *Runner) expandMultiInstanceComposite(ctx context.Context, sp *spec.Specification, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, _ map[string]any) error {
	items, err := r.miAccessorItems(task, c.DataDocument)
	if err != nil {
		return err
	}
	total := len(items)
	for i, item := range items {
		input, err := r.miSplitterInput(task, c.DataDocument, item, i, total)
		if err != nil {
			return err
		}
		if err := r.launchSubNet(ctx, sp, rs, c, task, input, i); err != nil {
			return err
		}
	}
	if total == 0 {
		return r.finishTask(ctx, sp, sp.Nets[rs.NetID], rs, c, task, map[string]any{"results": []any{}})
	}
	return nil
}

// completeMultiInstanceChild implements A.4.3.2's threshold/continuation
// policy: it records the child's completion, and once the declared threshold
// of children have completed, aggregates their outputs, applies the
// continuation policy to any children still in flight, and finishes the parent
// task instance exactly once.
func (r *Runner) completeMultiInstanceChild(ctx context.Context, sp *spec.Specification, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case, task *spec.Task, wi *runtime.WorkItem, _ map[string]any) error {
	children := rs.Children[task.ID]
	completed := 0
	for _, id := range children {
		child, ok := c.WorkItems[id]
		if !ok || child.Status != runtime.WorkItemComplete {
			continue
		}
		completed++
		if _, seen := rs.CompletionOrder[id]; !seen {
			rs.CompletionOrder[id] = len(rs.CompletionOrder) + 1
		}
	}
	threshold := task.MultiInstance.Threshold
	if threshold <= 0 {
		threshold = len(children)
	}
	if completed < threshold {
		return nil
	}

	aggOutput, err := r.miAggregate(task, c.DataDocument, rs, c, children)
	if err != nil {
		return err
	}

	if task.MultiInstance.ContinuationPolicy == spec.ContinuationCancel {
		now := r.clock()
		for _, id := range children {
			child, ok := c.WorkItems[id]
			if !ok || child.Status.IsTerminal() {
				continue
			}
			if err := Cancel(child, now); err != nil {
				return err
			}
			r.announce(ctx, c, announce.KindWorkItemCancelled, child.ID, nil, "cancelled: multi-instance threshold reached")
			if child.ChildRunnerID != "" {
				r.tearDownSubNet(ctx, c, child.ChildRunnerID)
			}
		}
	}

	return r.finishTask(ctx, sp, net, rs, c, task, aggOutput)
}

// miAggregate evaluates the aggregator expression (or falls back to collecting
// raw child outputs under "results") over the completed children's outputs, in
// creation order if OrderedByCreation is set, else in the order they actually
// completed (rs.CompletionOrder, recorded as each child reaches
// WorkItemComplete).
func (r *Runner) miAggregate(task *spec.Task, dataDoc map[string]any, rs *runtime.RunnerState, c *runtime.Case, children []string) (map[string]any, error) {
	ids := append([]string(nil), children...)
	if task.MultiInstance.OrderedByCreation {
		sort.Slice(ids, func(i, j int) bool { return rs.ChildIndex[ids[i]] < rs.ChildIndex[ids[j]] })
	} else {
		sort.Slice(ids, func(i, j int) bool { return rs.CompletionOrder[ids[i]] < rs.CompletionOrder[ids[j]] })
	}
	var outputs []any
	for _, id := range ids {
		wi, ok := c.WorkItems[id]
		if !ok || wi.Status != runtime.WorkItemComplete {
			continue
		}
		outputs = append(outputs, wi.Output)
	}
	if task.MultiInstance.Aggregator == "" {
		return map[string]any{"results": outputs}, nil
	}
	env := map[string]any{"data": dataDoc, "outputs": outputs}
	val, err := r.eval.EvaluateAny(task.MultiInstance.Aggregator, env)
	if err != nil {
		return nil, err
	}
	if m, ok := val.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": val}, nil
}
