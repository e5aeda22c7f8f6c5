package runtime

import (
	"encoding/json"
	"time"

	"github.com/yawl-engine/core/pkg/yawlerr"
)

// snapshotSchemaVersion is bumped whenever the wire shape below changes in a way
// that breaks decoding of previously exported snapshots (A.6.2).
const snapshotSchemaVersion = 1

// Snapshot is the self-describing, JSON-serialized form of a case, per A.6.2. Using
// encoding/json here mirrors the reference codebase's own
// execution_checkpoint.go/models.Workflow.Clone, both of which round-trip runtime
// state through JSON rather than a bespoke binary format (see DESIGN.md).
type Snapshot struct {
	SchemaVersion int `json:"schema_version"`

	CaseID       string `json:"case_id"`
	ParentCaseID string `json:"parent_case_id,omitempty"`
	SpecURI      string `json:"spec_uri"`
	SpecVersion  string `json:"spec_version"`

	DataDocument map[string]any `json:"data_document"`

	Runners   []*runnerSnapshot     `json:"runners"`
	WorkItems map[string]*WorkItem  `json:"work_items"`

	Status            CaseStatus `json:"status"`
	Cancelling        bool       `json:"cancelling"`
	Suspended         bool       `json:"suspended"`
	DeadlockAnnounced bool       `json:"deadlock_announced"`

	LaunchedAt  time.Time  `json:"launched_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type runnerSnapshot struct {
	RunnerID         string            `json:"runner_id"`
	NetID            string            `json:"net_id"`
	ParentWorkItemID string            `json:"parent_work_item_id,omitempty"`
	ConditionTokens  map[string]int    `json:"condition_tokens"`
	TaskBusy         map[string]int    `json:"task_busy"`
	TaskEnabled      map[string]int    `json:"task_enabled"`
	Children         map[string][]string `json:"children"`
	ChildIndex       map[string]int    `json:"child_index"`
	CompletionOrder  map[string]int    `json:"completion_order"`
}

// Snapshot produces a self-contained serialized form of the case, per A.4.2.
// Callers must hold the case lock (or own exclusive access, e.g. right after
// construction) before calling Snapshot.
func (c *Case) Snapshot() ([]byte, error) {
	s := &Snapshot{
		SchemaVersion: snapshotSchemaVersion,
		CaseID:        c.ID,
		ParentCaseID:  c.ParentCaseID,
		SpecURI:       c.SpecURI,
		SpecVersion:   c.SpecVersion,
		DataDocument:  c.DataDocument,
		WorkItems:     c.WorkItems,
		Status:            c.Status,
		Cancelling:        c.Cancelling,
		Suspended:         c.Suspended,
		DeadlockAnnounced: c.DeadlockAnnounced,
		LaunchedAt:    c.LaunchedAt,
		CompletedAt:   c.CompletedAt,
	}
	for _, r := range c.Runners {
		s.Runners = append(s.Runners, &runnerSnapshot{
			RunnerID:         r.RunnerID,
			NetID:            r.NetID,
			ParentWorkItemID: r.ParentWorkItemID,
			ConditionTokens:  r.Marking.ConditionTokens,
			TaskBusy:         r.Marking.TaskBusy,
			TaskEnabled:      r.Marking.TaskEnabled,
			Children:         r.Children,
			ChildIndex:       r.ChildIndex,
			CompletionOrder:  r.CompletionOrder,
		})
	}
	return json.Marshal(s)
}

// Restore rebuilds a Case from a snapshot such that further execution is
// observationally indistinguishable from a resumption at the original point
// (A.4.2's round-trip guarantee, tested as scenario 7 / property #3 in A.8).
func Restore(data []byte) (*Case, error) {
	c := &Case{}
	if err := c.RestoreFrom(data); err != nil {
		return nil, err
	}
	return c, nil
}

// RestoreFrom repopulates c's exported fields from a snapshot in place,
// leaving c's own mutex untouched. Used both by Restore (a freshly allocated
// Case) and by a caller that already holds c's lock and needs to roll an
// in-memory mutation back to its pre-mutation snapshot after a failed commit
// (see pkg/engine's persistent commit strategy).
func (c *Case) RestoreFrom(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return &yawlerr.ResourceError{Op: "restore case snapshot", Err: err}
	}
	if s.SchemaVersion != snapshotSchemaVersion {
		return &yawlerr.ResourceError{Op: "restore case snapshot", Err: errUnsupportedSchema(s.SchemaVersion)}
	}
	c.ID = s.CaseID
	c.ParentCaseID = s.ParentCaseID
	c.SpecURI = s.SpecURI
	c.SpecVersion = s.SpecVersion
	c.DataDocument = s.DataDocument
	c.WorkItems = s.WorkItems
	c.Status = s.Status
	c.Cancelling = s.Cancelling
	c.Suspended = s.Suspended
	c.DeadlockAnnounced = s.DeadlockAnnounced
	c.LaunchedAt = s.LaunchedAt
	c.CompletedAt = s.CompletedAt
	c.Runners = nil

	if c.DataDocument == nil {
		c.DataDocument = make(map[string]any)
	}
	if c.WorkItems == nil {
		c.WorkItems = make(map[string]*WorkItem)
	}
	for _, wi := range c.WorkItems {
		if wi.Status == WorkItemComplete {
			wi.SetOutputSignature(outputSignatureForRestore(wi.Output))
		}
	}
	for _, rs := range s.Runners {
		marking := &Marking{
			ConditionTokens: rs.ConditionTokens,
			TaskBusy:        rs.TaskBusy,
			TaskEnabled:     rs.TaskEnabled,
		}
		if marking.ConditionTokens == nil {
			marking.ConditionTokens = make(map[string]int)
		}
		if marking.TaskBusy == nil {
			marking.TaskBusy = make(map[string]int)
		}
		if marking.TaskEnabled == nil {
			marking.TaskEnabled = make(map[string]int)
		}
		children := rs.Children
		if children == nil {
			children = make(map[string][]string)
		}
		childIndex := rs.ChildIndex
		if childIndex == nil {
			childIndex = make(map[string]int)
		}
		completionOrder := rs.CompletionOrder
		if completionOrder == nil {
			completionOrder = make(map[string]int)
		}
		c.Runners = append(c.Runners, &RunnerState{
			RunnerID:         rs.RunnerID,
			NetID:            rs.NetID,
			ParentWorkItemID: rs.ParentWorkItemID,
			Marking:          marking,
			Children:         children,
			ChildIndex:       childIndex,
			CompletionOrder:  completionOrder,
		})
	}
	return nil
}

type errUnsupportedSchema int

func (e errUnsupportedSchema) Error() string {
	return "unsupported case snapshot schema version"
}
