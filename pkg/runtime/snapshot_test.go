package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTrip_PreservesCaseState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New("case-1", "uri", "v1", "net-root", now)
	c.DataDocument["x"] = float64(42)
	c.RootRunner().Marking.AddToken("cond-a", 2)
	c.RootRunner().Children["t1"] = []string{"wi-1", "wi-2"}
	c.RootRunner().ChildIndex["wi-1"] = 0
	c.RootRunner().CompletionOrder["wi-1"] = 1
	c.DeadlockAnnounced = true

	wi := NewWorkItem("wi-1", "case-1", "t1", 0, map[string]any{"in": "v"}, now)
	wi.Status = WorkItemComplete
	wi.Output = map[string]any{"out": "done"}
	c.WorkItems["wi-1"] = wi

	data, err := c.Snapshot()
	require.NoError(t, err)

	restored, err := Restore(data)
	require.NoError(t, err)

	assert.Equal(t, c.ID, restored.ID)
	assert.Equal(t, c.SpecURI, restored.SpecURI)
	assert.Equal(t, c.SpecVersion, restored.SpecVersion)
	assert.Equal(t, c.Status, restored.Status)
	assert.True(t, restored.DeadlockAnnounced, "DeadlockAnnounced must survive export/import so a restored case does not re-announce case_deadlocked")
	assert.Equal(t, float64(42), restored.DataDocument["x"])
	require.Len(t, restored.Runners, 1)
	assert.Equal(t, 2, restored.RootRunner().Marking.ConditionTokens["cond-a"])
	assert.Equal(t, []string{"wi-1", "wi-2"}, restored.RootRunner().Children["t1"])
	assert.Equal(t, 1, restored.RootRunner().CompletionOrder["wi-1"])
	require.Contains(t, restored.WorkItems, "wi-1")
	assert.Equal(t, WorkItemComplete, restored.WorkItems["wi-1"].Status)
}

func TestSnapshot_Restore_RejectsUnknownSchemaVersion(t *testing.T) {
	_, err := Restore([]byte(`{"schema_version":999,"case_id":"c1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestCase_RestoreFrom_RollsBackInPlaceAfterFailedMutation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New("case-1", "uri", "v1", "net-root", now)
	c.DataDocument["count"] = float64(1)

	before, err := c.Snapshot()
	require.NoError(t, err)

	c.DataDocument["count"] = float64(2)
	c.Status = CaseCancelled

	require.NoError(t, c.RestoreFrom(before))
	assert.Equal(t, float64(1), c.DataDocument["count"])
	assert.Equal(t, CaseRunning, c.Status)
}

func TestCase_PushPopRunner(t *testing.T) {
	now := time.Now()
	c := New("case-1", "uri", "v1", "net-root", now)
	require.Len(t, c.Runners, 1)

	c.PushRunner("r2", "sub-net", "wi-1")
	assert.Equal(t, 2, len(c.Runners))
	assert.Equal(t, "r2", c.CurrentRunner().RunnerID)
	assert.NotNil(t, c.FindRunner("r2"))

	c.PopRunner("r2")
	assert.Len(t, c.Runners, 1)
	assert.Nil(t, c.FindRunner("r2"))
}

func TestWorkItemStatus_IsTerminal(t *testing.T) {
	terminal := []WorkItemStatus{WorkItemComplete, WorkItemFailed, WorkItemCancelled, WorkItemDeadlocked}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	nonTerminal := []WorkItemStatus{WorkItemEnabled, WorkItemFired, WorkItemExecuting, WorkItemSuspended}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}
