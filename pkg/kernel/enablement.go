package kernel

import (
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
)

// isEnabled implements A.4.3.1 step 1: a task is enabled iff its join
// precondition is satisfied given the current marking and in-flight activity.
func (r *Runner) isEnabled(task *spec.Task, net *spec.Net, rs *runtime.RunnerState) (bool, error) {
	in := net.FlowsIn(task.ID)
	switch task.Join {
	case spec.JoinAND:
		return allSourcesHaveToken(in, rs.Marking), nil
	case spec.JoinXOR:
		return anySourceHasToken(in, rs.Marking), nil
	case spec.JoinOR:
		return r.orJoinFireable(task, net, rs)
	default:
		return false, &specJoinError{task.ID}
	}
}

func allSourcesHaveToken(in []*spec.Flow, m *runtime.Marking) bool {
	if len(in) == 0 {
		return true // the input condition of a net has no incoming flow; tasks always declare a join type but a task with no incoming flow is vacuously AND-satisfied
	}
	for _, f := range in {
		if m.Tokens(f.Source) < 1 {
			return false
		}
	}
	return true
}

func anySourceHasToken(in []*spec.Flow, m *runtime.Marking) bool {
	for _, f := range in {
		if m.Tokens(f.Source) >= 1 {
			return true
		}
	}
	return false
}

type specJoinError struct{ TaskID string }

func (e *specJoinError) Error() string { return "unknown join type on task " + e.TaskID }

// consumeJoinTokens removes the tokens a firing consumes, per the join rule: AND
// consumes one token from every incoming source; XOR consumes exactly one (the
// first source, in flow rank order, holding a token); OR consumes every input
// that currently holds a token (A.4.3.1 step 2).
func consumeJoinTokens(task *spec.Task, net *spec.Net, rs *runtime.RunnerState) []string {
	in := net.FlowsIn(task.ID)
	var consumedFrom []string
	switch task.Join {
	case spec.JoinAND:
		for _, f := range in {
			if rs.Marking.ConsumeToken(f.Source) {
				consumedFrom = append(consumedFrom, f.Source)
			}
		}
	case spec.JoinXOR:
		for _, f := range in {
			if rs.Marking.ConsumeToken(f.Source) {
				consumedFrom = append(consumedFrom, f.Source)
				break
			}
		}
	case spec.JoinOR:
		for _, f := range in {
			if rs.Marking.ConsumeToken(f.Source) {
				consumedFrom = append(consumedFrom, f.Source)
			}
		}
	}
	return consumedFrom
}
