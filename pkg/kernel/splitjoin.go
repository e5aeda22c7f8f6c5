package kernel

import (
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

type splitKindError struct{ TaskID string }

func (e *splitKindError) Error() string { return "unknown split type on task " + e.TaskID }

// emitSplitTokens implements A.4.3.1 step 3: deposits output tokens according
// to the task's declared split behavior. AND deposits on every outgoing flow
// unconditionally; XOR picks exactly one branch by predicate (falling back to
// the default flow); OR deposits on every branch whose predicate holds,
// falling back to the default flow(s) if none do.
func (r *Runner) emitSplitTokens(task *spec.Task, net *spec.Net, rs *runtime.RunnerState, c *runtime.Case) error {
	out := net.FlowsOut(task.ID)
	if len(out) == 0 {
		return nil
	}
	switch task.Split {
	case spec.SplitAND:
		for _, f := range out {
			rs.Marking.AddToken(f.Target, 1)
		}
		return nil
	case spec.SplitXOR:
		target, err := r.selectXORFlow(task.ID, out, c.DataDocument)
		if err != nil {
			return err
		}
		rs.Marking.AddToken(target.Target, 1)
		return nil
	case spec.SplitOR:
		fired, err := r.selectORFlows(out, c.DataDocument)
		if err != nil {
			return err
		}
		for _, f := range fired {
			rs.Marking.AddToken(f.Target, 1)
		}
		return nil
	default:
		return &splitKindError{task.ID}
	}
}

// selectXORFlow evaluates each non-default flow's predicate in rank order and
// returns the first one that holds; if none hold, it falls back to the first
// declared default flow. Net.Validate only requires a default when some flow
// lacks a predicate, so an all-predicated split can legally have no default;
// if that split also has no eligible branch at runtime, that is a
// specification error, not a token silently dropped on the floor.
func (r *Runner) selectXORFlow(taskID string, out []*spec.Flow, caseData map[string]any) (*spec.Flow, error) {
	var fallback *spec.Flow
	for _, f := range out {
		if f.IsDefault && fallback == nil {
			fallback = f
		}
		if f.Predicate == "" {
			continue
		}
		ok, err := r.eval.EvaluateBool(f.Predicate, caseData)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	if fallback == nil {
		return nil, &yawlerr.SpecificationError{NodeID: taskID, Detail: "XOR split has no eligible branch and no default flow"}
	}
	return fallback, nil
}

// selectORFlows evaluates every flow's predicate and returns the set that
// holds; an unconditional (empty-predicate, non-default) flow always fires.
// If nothing fires, the default flow(s) are taken instead.
func (r *Runner) selectORFlows(out []*spec.Flow, caseData map[string]any) ([]*spec.Flow, error) {
	var fired []*spec.Flow
	var defaults []*spec.Flow
	for _, f := range out {
		if f.IsDefault {
			defaults = append(defaults, f)
			continue
		}
		if f.Predicate == "" {
			fired = append(fired, f)
			continue
		}
		ok, err := r.eval.EvaluateBool(f.Predicate, caseData)
		if err != nil {
			return nil, err
		}
		if ok {
			fired = append(fired, f)
		}
	}
	if len(fired) == 0 {
		return defaults, nil
	}
	return fired, nil
}
