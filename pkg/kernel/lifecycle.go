// Package kernel implements the Net Runner (the main "continue" loop, split/join
// evaluation, informed OR-join reachability, multi-instance expansion,
// cancellation regions) and the Work Item Lifecycle Manager, per SPEC_FULL.md
// A.4.3 and A.4.4. Grounded primarily on pkg/engine/dag_executor.go's wave loop
// and pkg/engine/sub_workflow.go's fan-out, generalized from a DAG-of-nodes model
// to a full Petri-net marking with joins, splits, and cancellation.
package kernel

import (
	"fmt"
	"time"

	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// legalTransitions encodes A.4.4's transition table: for each current status, the
// set of events that are legal and the status they lead to. Illegal transitions
// are surfaced as a *yawlerr.StateError.
var legalTransitions = map[runtime.WorkItemStatus]map[string]runtime.WorkItemStatus{
	runtime.WorkItemEnabled: {
		"checkout":       runtime.WorkItemFired,
		"timer_checkout": runtime.WorkItemFired,
		"cancel":         runtime.WorkItemCancelled,
		"orjoin_skip":    runtime.WorkItemCancelled,
	},
	runtime.WorkItemFired: {
		"start":    runtime.WorkItemExecuting,
		"complete": runtime.WorkItemComplete,
		"fail":     runtime.WorkItemFailed,
		"cancel":   runtime.WorkItemCancelled,
	},
	runtime.WorkItemExecuting: {
		"complete": runtime.WorkItemComplete,
		"fail":     runtime.WorkItemFailed,
		"suspend":  runtime.WorkItemSuspended,
		"cancel":   runtime.WorkItemCancelled,
	},
	runtime.WorkItemSuspended: {
		"resume": runtime.WorkItemExecuting,
		"cancel": runtime.WorkItemCancelled,
	},
}

// transition validates and applies a lifecycle event to a work item, recording
// the destination status's first-reached timestamp. At most one transition per
// work item per lock acquisition is enforced by the caller always holding the
// case lock across the whole operation (A.4.4's guarantee).
func transition(wi *runtime.WorkItem, event string, now time.Time) error {
	if wi.Status.IsTerminal() {
		return &yawlerr.StateError{WorkItemID: wi.ID, From: string(wi.Status), To: event}
	}
	allowed, ok := legalTransitions[wi.Status]
	if !ok {
		return &yawlerr.StateError{WorkItemID: wi.ID, From: string(wi.Status), To: event}
	}
	to, ok := allowed[event]
	if !ok {
		return &yawlerr.StateError{WorkItemID: wi.ID, From: string(wi.Status), To: event}
	}
	wi.Status = to
	wi.RecordTransition(to, now)
	return nil
}

// CheckOut assigns an enabled work item to an external resource handle, moving it
// to fired (A.4.4: "enabled -> external checkout -> fired").
func CheckOut(wi *runtime.WorkItem, handle string, now time.Time) error {
	if err := transition(wi, "checkout", now); err != nil {
		return err
	}
	wi.ResourceHandle = handle
	return nil
}

// Start moves a fired work item to executing, the optional substate for
// long-running work (A.4.4).
func Start(wi *runtime.WorkItem, now time.Time) error {
	return transition(wi, "start", now)
}

// Suspend moves an executing work item to suspended.
func Suspend(wi *runtime.WorkItem, now time.Time) error {
	return transition(wi, "suspend", now)
}

// Resume moves a suspended work item back to executing.
func Resume(wi *runtime.WorkItem, now time.Time) error {
	return transition(wi, "resume", now)
}

// Fail moves a fired or executing work item to failed, per A.4.4 and the
// ExternalHandlerFailure error kind (A.7).
func Fail(wi *runtime.WorkItem, reason string, now time.Time) error {
	if err := transition(wi, "fail", now); err != nil {
		return err
	}
	wi.Output = map[string]any{"error": reason}
	return nil
}

// Cancel force-cancels a work item from any non-terminal state, used by
// cancellation regions and OR-join input resolution (A.4.4's last two rows).
func Cancel(wi *runtime.WorkItem, now time.Time) error {
	if wi.Status.IsTerminal() {
		return nil // already terminal; cancelling a completed/cancelled item is a no-op, not an error
	}
	wi.Status = runtime.WorkItemCancelled
	wi.RecordTransition(runtime.WorkItemCancelled, now)
	return nil
}

// outputSignature produces a cheap, stable signature of a work item's output map
// so repeated Complete calls can be compared for A.4.4's idempotency guarantee.
func outputSignature(output map[string]any) string {
	return fmt.Sprintf("%v", output)
}

// Complete moves a fired or executing work item to complete, validating
// idempotency: an identical retry succeeds silently (returns nil, wi.Output
// already holds the cached result); a differing output is a ConflictError.
func Complete(wi *runtime.WorkItem, output map[string]any, now time.Time) error {
	sig := outputSignature(output)
	if wi.Status == runtime.WorkItemComplete {
		if wi.OutputSignature() == sig {
			return nil
		}
		return &yawlerr.ConflictError{EntityID: wi.ID, Reason: "complete called again with a different output"}
	}
	if err := transition(wi, "complete", now); err != nil {
		return err
	}
	wi.Output = output
	wi.SetOutputSignature(sig)
	return nil
}
