package kernel

import (
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
)

// DefaultOrJoinDepthBudget bounds the informed OR-join reachability search
// (A.4.3.3) when a task does not declare its own override
// (spec.Task.OrJoinDepthOverride).
const DefaultOrJoinDepthBudget = 64

// orJoinFireable implements the informed OR-join decision of A.4.3.3: task fires
// iff at least one input holds a token and no more tokens can ever arrive on any
// other input, given the current marking and live structure.
//
// This is a structural analysis, not a data-driven simulation: it does not
// evaluate flow predicates (the real firing sequence depends on case data this
// analysis must not assume), so every split is treated as potentially routing a
// token to every one of its outgoing flows. That is the conservative
// over-approximation the spec calls for — it can only make the join wait longer
// than strictly necessary, never fire it early, matching testable property #5
// (OR-join informedness: the join never fires "early").
func (r *Runner) orJoinFireable(task *spec.Task, net *spec.Net, rs *runtime.RunnerState) (bool, error) {
	in := net.FlowsIn(task.ID)
	if len(in) == 0 {
		return true, nil
	}

	var unsatisfied []*spec.Flow
	anyPresent := false
	for _, f := range in {
		if rs.Marking.Tokens(f.Source) >= 1 {
			anyPresent = true
		} else {
			unsatisfied = append(unsatisfied, f)
		}
	}
	if !anyPresent {
		return false, nil
	}
	if len(unsatisfied) == 0 {
		return true, nil
	}

	// Step 1: residual marking = current marking minus tokens on already-
	// satisfied inputs, so the search below cannot "reuse" a token T would
	// already consume as if it were still free to arrive elsewhere.
	residual := rs.Marking.Clone()
	for _, f := range in {
		if residual.Tokens(f.Source) >= 1 && !containsFlow(unsatisfied, f) {
			residual.ConditionTokens[f.Source]--
		}
	}

	unsatisfiedNodes := make(map[string]bool, len(unsatisfied))
	for _, f := range unsatisfied {
		unsatisfiedNodes[f.Source] = true
	}

	budget := task.OrJoinDepthOverride
	if budget <= 0 {
		budget = r.config.OrJoinDepthBudget
	}
	if budget <= 0 {
		budget = DefaultOrJoinDepthBudget
	}

	reachable, definitive := canAnyTokenReach(net, residual, unsatisfiedNodes, task.ID, budget)
	if !definitive {
		// Depth budget exhausted without a fixed point: conservative defer
		// (A.4.3.3 step 3's explicit fallback).
		return false, nil
	}
	return !reachable, nil
}

func containsFlow(flows []*spec.Flow, f *spec.Flow) bool {
	for _, x := range flows {
		if x.ID == f.ID {
			return true
		}
	}
	return false
}

// canAnyTokenReach runs a bounded abstract firing simulation over net starting
// from marking, excluding excludeTaskID (T itself never fires in this analysis),
// and reports whether any firing sequence within budget rounds deposits a token
// on one of targetNodes. The second return value is false if the budget was
// exhausted before reaching a fixed point (no further task could newly fire).
func canAnyTokenReach(net *spec.Net, marking *runtime.Marking, targetNodes map[string]bool, excludeTaskID string, budget int) (reached bool, definitive bool) {
	for round := 0; round < budget; round++ {
		fired := false
		for taskID, t := range net.Tasks {
			if taskID == excludeTaskID {
				continue
			}
			if !abstractEnabled(t, net, marking) {
				continue
			}
			abstractFire(t, net, marking)
			fired = true
			for node := range targetNodes {
				if marking.Tokens(node) >= 1 {
					return true, true
				}
			}
		}
		if !fired {
			return false, true // fixed point reached, no token ever arrived
		}
	}
	return false, false // budget exhausted, no fixed point reached yet
}

func abstractEnabled(t *spec.Task, net *spec.Net, m *runtime.Marking) bool {
	in := net.FlowsIn(t.ID)
	switch t.Join {
	case spec.JoinAND:
		return allSourcesHaveToken(in, m)
	default: // XOR and OR both just need one source present for this conservative abstraction
		return anySourceHasToken(in, m)
	}
}

// abstractFire consumes this task's join tokens and deposits a token on every
// outgoing flow, regardless of declared split type — the conservative
// over-approximation described above.
func abstractFire(t *spec.Task, net *spec.Net, m *runtime.Marking) {
	in := net.FlowsIn(t.ID)
	switch t.Join {
	case spec.JoinAND:
		for _, f := range in {
			m.ConsumeToken(f.Source)
		}
	default:
		for _, f := range in {
			if m.ConsumeToken(f.Source) {
				break
			}
		}
	}
	for _, f := range net.FlowsOut(t.ID) {
		m.AddToken(f.Target, 1)
	}
}
