package runtime

import (
	"fmt"
	"time"
)

// WorkItemStatus is one of the eight states of A.4.4's lifecycle table.
type WorkItemStatus string

const (
	WorkItemEnabled    WorkItemStatus = "enabled"
	WorkItemFired      WorkItemStatus = "fired"
	WorkItemExecuting  WorkItemStatus = "executing"
	WorkItemSuspended  WorkItemStatus = "suspended"
	WorkItemComplete   WorkItemStatus = "complete"
	WorkItemFailed     WorkItemStatus = "failed"
	WorkItemCancelled  WorkItemStatus = "cancelled"
	WorkItemDeadlocked WorkItemStatus = "deadlocked"
)

// IsTerminal reports whether status is one from which no further transition is
// legal, per lifecycle monotonicity (A.8 property #2). Grounded on
// pkg/models/execution.go's NodeExecutionStatus.IsTerminal.
func (s WorkItemStatus) IsTerminal() bool {
	switch s {
	case WorkItemComplete, WorkItemFailed, WorkItemCancelled, WorkItemDeadlocked:
		return true
	default:
		return false
	}
}

// WorkItem is one instantiation of a task for a specific case, per A.3. Its ID is
// (CaseID, TaskID, SiblingIndex) conceptually; WorkItem.ID is the engine-assigned
// stable string handle used externally.
type WorkItem struct {
	ID         string
	CaseID     string
	RunnerID   string // which net runner instance this work item belongs to
	TaskID     string
	SiblingIndex int // -1 when the task is not multi-instance

	ParentWorkItemID string // set for multi-instance children and sub-net-expanded items
	// ChildRunnerID is set when this work item is a composite task's proxy: it
	// names the sub-net runner instantiated to execute the decomposition.
	ChildRunnerID string

	Status WorkItemStatus
	Input  map[string]any
	Output map[string]any

	ResourceHandle string // opaque handle assigned at checkout
	RetryCount     int

	Transitions map[WorkItemStatus]time.Time // timestamp recorded the first time each status is reached

	// lastOutputSignature lets checkIn be idempotent: a retried complete() with
	// identical output returns the cached acknowledgement rather than erroring.
	lastOutputSignature string
}

// NewWorkItem constructs a work item in its initial "enabled" state, recording
// that transition's timestamp immediately, per A.4.4's transition table.
func NewWorkItem(id, caseID, taskID string, siblingIndex int, input map[string]any, now time.Time) *WorkItem {
	wi := &WorkItem{
		ID:           id,
		CaseID:       caseID,
		TaskID:       taskID,
		SiblingIndex: siblingIndex,
		Status:       WorkItemEnabled,
		Input:        input,
		Transitions:  make(map[WorkItemStatus]time.Time),
	}
	wi.recordTransition(WorkItemEnabled, now)
	return wi
}

func (wi *WorkItem) recordTransition(status WorkItemStatus, at time.Time) {
	if _, exists := wi.Transitions[status]; !exists {
		wi.Transitions[status] = at
	}
}

// RecordTransition is the exported form of recordTransition, used by
// pkg/kernel's lifecycle transition function when it moves a work item to a new
// status. Terminal timestamps are recorded immutably: the first time a status is
// reached is the time kept, per A.4.4.
func (wi *WorkItem) RecordTransition(status WorkItemStatus, at time.Time) {
	wi.recordTransition(status, at)
}

// OutputSignature returns the cached signature of the last accepted output,
// used to detect an identical-output retry of Complete (A.4.4 idempotency).
func (wi *WorkItem) OutputSignature() string { return wi.lastOutputSignature }

// SetOutputSignature records the signature of the output just accepted.
func (wi *WorkItem) SetOutputSignature(sig string) { wi.lastOutputSignature = sig }

// outputSignatureForRestore recomputes the same cheap signature pkg/kernel's
// Complete uses, so a work item restored from a snapshot in the complete state
// still recognizes an identical-output retry as idempotent rather than a
// conflict (see Restore in snapshot.go).
func outputSignatureForRestore(output map[string]any) string {
	return fmt.Sprintf("%v", output)
}

// Clone deep-copies the work item for snapshotting.
func (wi *WorkItem) Clone() *WorkItem {
	out := *wi
	out.Input = cloneMap(wi.Input)
	out.Output = cloneMap(wi.Output)
	out.Transitions = make(map[WorkItemStatus]time.Time, len(wi.Transitions))
	for k, v := range wi.Transitions {
		out.Transitions[k] = v
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
