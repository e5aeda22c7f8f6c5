package spec

import (
	"sort"

	"github.com/yawl-engine/core/pkg/yawlerr"
)

// NewNet builds a Net's flow indices from its flow list. Grounded on
// pkg/engine/dag_utils.go's BuildDAG: a flat map keyed by node ID with
// adjacency lists, never owning object references (SPEC_FULL.md A.9).
func NewNet(id, name, inputID, outputID string, tasks []*Task, conditions []*Condition, flows []*Flow) *Net {
	n := &Net{
		ID:                id,
		Name:              name,
		InputConditionID:  inputID,
		OutputConditionID: outputID,
		Tasks:             make(map[string]*Task, len(tasks)),
		Conditions:        make(map[string]*Condition, len(conditions)),
		outFlows:          make(map[string][]*Flow),
		inFlows:           make(map[string][]*Flow),
		flows:             make(map[string]*Flow, len(flows)),
	}
	for _, t := range tasks {
		n.Tasks[t.ID] = t
	}
	for _, c := range conditions {
		n.Conditions[c.ID] = c
	}
	for _, f := range flows {
		n.flows[f.ID] = f
		n.outFlows[f.Source] = append(n.outFlows[f.Source], f)
		n.inFlows[f.Target] = append(n.inFlows[f.Target], f)
	}
	for _, bucket := range n.outFlows {
		sortFlows(bucket)
	}
	for _, bucket := range n.inFlows {
		sortFlows(bucket)
	}
	return n
}

// sortFlows orders flows deterministically by rank, stable tie-break by flow
// identity, per A.4.1's "flows ordered deterministically per source node".
func sortFlows(flows []*Flow) {
	sort.SliceStable(flows, func(i, j int) bool {
		if flows[i].Rank != flows[j].Rank {
			return flows[i].Rank < flows[j].Rank
		}
		return flows[i].ID < flows[j].ID
	})
}

// HasNode reports whether id names a task or a condition in this net.
func (n *Net) HasNode(id string) bool {
	if _, ok := n.Tasks[id]; ok {
		return true
	}
	_, ok := n.Conditions[id]
	return ok
}

// GetTask returns the task with the given ID, or an error if none exists.
func (n *Net) GetTask(id string) (*Task, error) {
	t, ok := n.Tasks[id]
	if !ok {
		return nil, yawlerr.ErrTaskNotFound
	}
	return t, nil
}

// GetCondition returns the condition with the given ID, or an error if none exists.
func (n *Net) GetCondition(id string) (*Condition, error) {
	c, ok := n.Conditions[id]
	if !ok {
		return nil, yawlerr.ErrNodeNotFound
	}
	return c, nil
}

// FlowsOut returns the outgoing flows of node in deterministic order. Total: a
// node with no outgoing flows yields an empty, non-nil slice.
func (n *Net) FlowsOut(nodeID string) []*Flow {
	if out := n.outFlows[nodeID]; out != nil {
		return out
	}
	return []*Flow{}
}

// FlowsIn returns the incoming flows of node in deterministic order.
func (n *Net) FlowsIn(nodeID string) []*Flow {
	return n.inFlows[nodeID]
}

// NewSpecification constructs a Specification from a root net and any sub-nets.
func NewSpecification(uri, version string, rootNet *Net, subNets ...*Net) *Specification {
	nets := make(map[string]*Net, len(subNets)+1)
	nets[rootNet.ID] = rootNet
	for _, sn := range subNets {
		nets[sn.ID] = sn
	}
	return &Specification{URI: uri, Version: version, RootNetID: rootNet.ID, Nets: nets}
}

// GetRootNet returns the specification's single root net.
func (s *Specification) GetRootNet() (*Net, error) {
	return s.GetNet(s.RootNetID)
}

// GetNet returns the net with the given ID.
func (s *Specification) GetNet(id string) (*Net, error) {
	n, ok := s.Nets[id]
	if !ok {
		return nil, yawlerr.ErrNetNotFound
	}
	return n, nil
}

// GetTask searches every net of the specification for a task with the given ID.
// Task IDs are expected unique across the whole specification (sub-nets included).
func (s *Specification) GetTask(id string) (*Task, *Net, error) {
	for _, n := range s.Nets {
		if t, ok := n.Tasks[id]; ok {
			return t, n, nil
		}
	}
	return nil, nil, yawlerr.ErrTaskNotFound
}

// Validate checks the structural invariants a conforming loader must establish
// (A.6.1: the engine may assume well-formedness, but this entry point exists so an
// embedding loader, or a test, can confirm it before registering the
// specification). Mirrors pkg/models/workflow.go's Validate in shape: accumulate
// and report the first structural violation found.
func (s *Specification) Validate() error {
	if s.RootNetID == "" {
		return &yawlErrWrap{yawlerr.ErrNoRootNet}
	}
	root, err := s.GetRootNet()
	if err != nil {
		return err
	}
	return root.Validate()
}

// Validate checks one net's structural invariants: exactly one input condition
// with no incoming flow, exactly one output condition with no outgoing flow, and
// every flow referencing nodes that exist within the net.
func (n *Net) Validate() error {
	inCond, ok := n.Conditions[n.InputConditionID]
	if !ok || !inCond.IsInput {
		return &specStructError{n.ID, "input condition missing or not marked as input"}
	}
	if len(n.inFlows[n.InputConditionID]) != 0 {
		return &specStructError{n.ID, "input condition has an incoming flow"}
	}
	outCond, ok := n.Conditions[n.OutputConditionID]
	if !ok || !outCond.IsOutput {
		return &specStructError{n.ID, "output condition missing or not marked as output"}
	}
	if len(n.outFlows[n.OutputConditionID]) != 0 {
		return &specStructError{n.ID, "output condition has an outgoing flow"}
	}
	for _, f := range n.flows {
		if !n.HasNode(f.Source) {
			return &specStructError{n.ID, "flow references unknown source node " + f.Source}
		}
		if !n.HasNode(f.Target) {
			return &specStructError{n.ID, "flow references unknown target node " + f.Target}
		}
	}
	for _, t := range n.Tasks {
		if err := validateBranching(t, n.outFlows[t.ID]); err != nil {
			return err
		}
	}
	return nil
}

// validateBranching enforces A.4.1: a missing predicate on a non-default XOR/OR
// branch is a specification error unless the branch is marked default.
func validateBranching(t *Task, out []*Flow) error {
	if t.Split != SplitXOR && t.Split != SplitOR {
		return nil
	}
	hasDefault := false
	for _, f := range out {
		if f.IsDefault {
			hasDefault = true
		}
	}
	for _, f := range out {
		if f.IsDefault || f.Predicate != "" {
			continue
		}
		if !hasDefault {
			return &yawlSpecError{t.ID, "no default branch and a flow has no predicate"}
		}
		return &yawlSpecError{t.ID, "non-default branch missing a predicate on a XOR/OR split"}
	}
	return nil
}

type specStructError struct {
	NetID string
	Msg   string
}

func (e *specStructError) Error() string { return "specification structure error in net " + e.NetID + ": " + e.Msg }

type yawlSpecError struct {
	NodeID string
	Msg    string
}

func (e *yawlSpecError) Error() string { return "specification error at " + e.NodeID + ": " + e.Msg }

type yawlErrWrap struct{ err error }

func (e *yawlErrWrap) Error() string { return e.err.Error() }
func (e *yawlErrWrap) Unwrap() error { return e.err }
