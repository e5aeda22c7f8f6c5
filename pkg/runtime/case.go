// Package runtime implements the Case State Store: the mutable runtime state of
// one live case (marking, work items, case data document, runner stack) plus
// snapshot/restore and the per-case mutation lock. Grounded on
// pkg/engine/execution_state.go's RWMutex-guarded, paired-accessor style, and
// internal/application/engine/execution_checkpoint.go's checkpoint/restore shape.
package runtime

import (
	"sync"
	"time"
)

// CaseStatus mirrors the case lifecycle of SPEC_FULL.md A.3's Lifecycles section.
type CaseStatus string

const (
	CaseRunning   CaseStatus = "running"
	CaseCompleted CaseStatus = "completed"
	CaseCancelled CaseStatus = "cancelled"
	CaseSuspended CaseStatus = "suspended"
)

// RunnerState is one entry of a case's net runner stack: one per active net
// instance (root, plus any running composite decompositions). The stack is
// strictly tree-shaped per A.9 and is represented here as an explicit slice owned
// by the Case, not by object references that would create reference cycles.
type RunnerState struct {
	RunnerID         string
	NetID            string
	Marking          *Marking
	ParentWorkItemID string // "" for the root runner

	// Children tracks multi-instance/child bookkeeping for tasks in this net that
	// are currently expanded (task ID -> child work item IDs in creation order).
	Children map[string][]string

	// ChildIndex records each child work item's creation index, used by
	// the aggregator when OrderedByCreation is set (A.4.3.2).
	ChildIndex map[string]int

	// CompletionOrder records the sequence in which each child work item
	// reached WorkItemComplete (1-based, assigned the first time it is
	// observed complete). Used by the aggregator when OrderedByCreation is
	// not set, so completion-ordered aggregation survives out-of-order
	// finishes rather than silently falling back to creation order.
	CompletionOrder map[string]int
}

func NewRunnerState(runnerID, netID, parentWorkItemID string) *RunnerState {
	return &RunnerState{
		RunnerID:         runnerID,
		NetID:            netID,
		Marking:          NewMarking(),
		ParentWorkItemID: parentWorkItemID,
		Children:         make(map[string][]string),
		ChildIndex:       make(map[string]int),
		CompletionOrder:  make(map[string]int),
	}
}

func (rs *RunnerState) Clone() *RunnerState {
	out := &RunnerState{
		RunnerID:         rs.RunnerID,
		NetID:            rs.NetID,
		Marking:          rs.Marking.Clone(),
		ParentWorkItemID: rs.ParentWorkItemID,
		Children:         make(map[string][]string, len(rs.Children)),
		ChildIndex:       make(map[string]int, len(rs.ChildIndex)),
		CompletionOrder:  make(map[string]int, len(rs.CompletionOrder)),
	}
	for k, v := range rs.Children {
		cp := make([]string, len(v))
		copy(cp, v)
		out.Children[k] = cp
	}
	for k, v := range rs.ChildIndex {
		out.ChildIndex[k] = v
	}
	for k, v := range rs.CompletionOrder {
		out.CompletionOrder[k] = v
	}
	return out
}

// Case holds the mutable runtime state of one case. Every field below is only
// ever read or written while the caller holds mu — see Lock/Unlock and
// ApplyMutation. Go has no built-in reentrant mutex, so unlike the source
// design's "one reentrant mutex per case", internal kernel functions take an
// "already locked" contract instead of re-acquiring: only the engine facade
// boundary calls Lock/Unlock (see DESIGN.md).
type Case struct {
	mu sync.Mutex

	ID           string
	ParentCaseID string

	SpecURI     string
	SpecVersion string

	DataDocument map[string]any

	Runners []*RunnerState // stack; Runners[0] is the root runner

	WorkItems map[string]*WorkItem

	Status      CaseStatus
	Cancelling  bool
	Suspended   bool

	LaunchedAt  time.Time
	CompletedAt *time.Time

	// DeadlockAnnounced guards testable property #6-adjacent behavior for
	// deadlock signals: re-checks after the same unresolved state don't spam
	// duplicate case_deadlocked events.
	DeadlockAnnounced bool
}

// New constructs a freshly-launched case with an empty root runner already
// pushed, matching A.3's "Net Runner: created when... case launches for root".
func New(id, specURI, specVersion, rootNetID string, now time.Time) *Case {
	c := &Case{
		ID:           id,
		SpecURI:      specURI,
		SpecVersion:  specVersion,
		DataDocument: make(map[string]any),
		WorkItems:    make(map[string]*WorkItem),
		Status:       CaseRunning,
		LaunchedAt:   now,
	}
	c.Runners = append(c.Runners, NewRunnerState(rootRunnerID(id), rootNetID, ""))
	return c
}

func rootRunnerID(caseID string) string { return caseID + "#root" }

// Lock acquires the case's exclusive mutation lock. All facade-level operations
// acquire it before touching the case; the runner's main loop runs entirely while
// it is held (A.5).
func (c *Case) Lock() { c.mu.Lock() }

// Unlock releases the case's exclusive mutation lock.
func (c *Case) Unlock() { c.mu.Unlock() }

// ApplyMutation runs mutator under the case's exclusive lock, per A.4.2. No
// reader ever observes a partially applied mutation: mutator runs start to
// finish with the lock held.
func (c *Case) ApplyMutation(mutator func(*Case) error) error {
	c.Lock()
	defer c.Unlock()
	return mutator(c)
}

// CurrentRunner returns the top of the runner stack (the net currently being
// advanced when control returns from a sub-net, or the root otherwise).
func (c *Case) CurrentRunner() *RunnerState {
	if len(c.Runners) == 0 {
		return nil
	}
	return c.Runners[len(c.Runners)-1]
}

// RootRunner returns the bottom of the runner stack.
func (c *Case) RootRunner() *RunnerState {
	if len(c.Runners) == 0 {
		return nil
	}
	return c.Runners[0]
}

// FindRunner locates a runner by ID anywhere in the stack (sub-net composition can
// be nested, so "current" is not always the one a resuming work item belongs to).
func (c *Case) FindRunner(runnerID string) *RunnerState {
	for _, r := range c.Runners {
		if r.RunnerID == runnerID {
			return r
		}
	}
	return nil
}

// PushRunner instantiates a new net runner for a composite decomposition and
// pushes it onto the stack, per A.4.3 step 2.
func (c *Case) PushRunner(runnerID, netID, parentWorkItemID string) *RunnerState {
	rs := NewRunnerState(runnerID, netID, parentWorkItemID)
	c.Runners = append(c.Runners, rs)
	return rs
}

// PopRunner removes a runner from the stack once its sub-net has completed or
// been torn down by cancellation, per A.4.3.4.
func (c *Case) PopRunner(runnerID string) {
	for i, r := range c.Runners {
		if r.RunnerID == runnerID {
			c.Runners = append(c.Runners[:i], c.Runners[i+1:]...)
			return
		}
	}
}

// MarkComplete transitions the case to completed, recording the timestamp. Safe
// to call only once; callers check Status first (testable property #6: case
// completion announced at most once).
func (c *Case) MarkComplete(now time.Time) {
	c.Status = CaseCompleted
	c.CompletedAt = &now
}
