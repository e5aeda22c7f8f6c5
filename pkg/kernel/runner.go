package kernel

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
)

// ExpressionEvaluator is the full evaluation capability the runner needs: flow
// predicates (spec.Evaluator) plus the arbitrary-value and slice-valued
// expressions that data mappings and multi-instance tasks use.
type ExpressionEvaluator interface {
	spec.Evaluator
	EvaluateAny(expression string, env map[string]any) (any, error)
	EvaluateSlice(expression string, caseData map[string]any) ([]any, error)
}

// Config tunes the runner's policy knobs.
type Config struct {
	// OrJoinDepthBudget bounds the informed OR-join reachability search for any
	// task that does not declare its own OrJoinDepthOverride.
	OrJoinDepthBudget int
}

// Runner is the Net Runner plus Work Item Lifecycle Manager kernel. It holds no
// case state of its own: every method takes the *runtime.Case to operate on, and
// every caller is required to already hold that case's lock (see
// runtime.Case.Lock). Grounded on pkg/engine/dag_executor.go's wave-based
// execution loop, generalized to a full marking with joins, splits,
// cancellation, and multi-instance expansion.
type Runner struct {
	eval      ExpressionEvaluator
	announcer *announce.Announcer
	config    Config
	clock     func() time.Time
	newID     func() string
}

// New constructs a Runner. clock defaults to time.Now; pass a fixed func in
// tests for deterministic timestamps.
func New(eval ExpressionEvaluator, announcer *announce.Announcer, config Config) *Runner {
	return &Runner{
		eval:      eval,
		announcer: announcer,
		config:    config,
		clock:     time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// WithClock overrides the runner's time source, for tests.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

func (r *Runner) announce(ctx context.Context, c *runtime.Case, kind announce.Kind, workItemID string, payload map[string]any, message string) {
	if r.announcer == nil {
		return
	}
	r.announcer.Notify(ctx, announce.Event{
		Kind:       kind,
		CaseID:     c.ID,
		WorkItemID: workItemID,
		Timestamp:  r.clock(),
		Payload:    payload,
		Message:    message,
	})
}

// Launch seeds the root net's input condition and case data, announces
// case_launched, and runs the case forward as far as it can go (A.4.3's entry
// point, invoked once by the engine facade's launchCase).
func (r *Runner) Launch(ctx context.Context, sp *spec.Specification, c *runtime.Case, input map[string]any) error {
	net, err := sp.GetRootNet()
	if err != nil {
		return err
	}
	for k, v := range input {
		c.DataDocument[k] = v
	}
	root := c.RootRunner()
	root.Marking.AddToken(net.InputConditionID, 1)
	r.announce(ctx, c, announce.KindCaseLaunched, "", nil, "")
	return r.Continue(ctx, sp, c)
}

// Continue drives the case forward until no further task can fire and no
// completed sub-net can be folded back into its parent, then checks for case
// completion or deadlock. It is re-entered after every externally observable
// event: work item completion, failure, cancellation, resumption, timer firing.
func (r *Runner) Continue(ctx context.Context, sp *spec.Specification, c *runtime.Case) error {
	for {
		progressed, err := r.step(ctx, sp, c)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
	}
	return r.checkCaseCompletion(ctx, sp, c)
}

// step runs one pass over every active runner: fold back any sub-net that has
// reached its output condition with no in-flight work, then fire every task
// that is both idle and enabled. It reports whether anything changed, so
// Continue can keep looping until a fixed point (A.4.3.1's main loop).
func (r *Runner) step(ctx context.Context, sp *spec.Specification, c *runtime.Case) (bool, error) {
	progressed := false
	runners := append([]*runtime.RunnerState(nil), c.Runners...)
	for _, rs := range runners {
		net := sp.Nets[rs.NetID]
		if net == nil {
			continue
		}
		if rs.ParentWorkItemID != "" {
			done, err := r.tryFinishSubNet(ctx, sp, rs, net, c)
			if err != nil {
				return false, err
			}
			if done {
				progressed = true
				continue
			}
		}
		for _, taskID := range taskIDsSorted(net) {
			task := net.Tasks[taskID]
			if rs.Marking.Busy(task.ID) > 0 {
				continue
			}
			enabled, err := r.isEnabled(task, net, rs)
			if err != nil {
				return false, err
			}
			if !enabled {
				continue
			}
			if err := r.fireTask(ctx, sp, net, rs, c, task); err != nil {
				return false, err
			}
			progressed = true
		}
	}
	return progressed, nil
}

func taskIDsSorted(net *spec.Net) []string {
	ids := make([]string, 0, len(net.Tasks))
	for id := range net.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkCaseCompletion transitions the case to completed once the root net's
// output condition holds a token and no task anywhere in the case is still
// busy, per A.3's case lifecycle. Otherwise it checks for deadlock.
func (r *Runner) checkCaseCompletion(ctx context.Context, sp *spec.Specification, c *runtime.Case) error {
	if c.Status != runtime.CaseRunning {
		return nil
	}
	root := c.RootRunner()
	net := sp.Nets[root.NetID]
	if net == nil {
		return nil
	}
	if root.Marking.Tokens(net.OutputConditionID) < 1 || !caseIdle(sp, c) {
		return r.checkDeadlock(ctx, sp, c)
	}
	c.MarkComplete(r.clock())
	r.announce(ctx, c, announce.KindCaseCompleted, "", nil, "")
	return nil
}

func caseIdle(sp *spec.Specification, c *runtime.Case) bool {
	for _, rs := range c.Runners {
		net := sp.Nets[rs.NetID]
		if net == nil {
			continue
		}
		for taskID := range net.Tasks {
			if rs.Marking.Busy(taskID) > 0 {
				return false
			}
		}
	}
	return true
}

// checkDeadlock announces case_deadlocked once, the first time nothing in the
// case can ever fire again: no task is busy, no task is enabled, and no work
// item is awaiting an external event (A.7's DeadlockSignal, A.8 property #8).
func (r *Runner) checkDeadlock(ctx context.Context, sp *spec.Specification, c *runtime.Case) error {
	if c.DeadlockAnnounced {
		return nil
	}
	for _, rs := range c.Runners {
		net := sp.Nets[rs.NetID]
		if net == nil {
			continue
		}
		for _, task := range net.Tasks {
			if rs.Marking.Busy(task.ID) > 0 {
				return nil
			}
			enabled, err := r.isEnabled(task, net, rs)
			if err != nil {
				return err
			}
			if enabled {
				return nil
			}
		}
	}
	for _, wi := range c.WorkItems {
		if !wi.Status.IsTerminal() {
			return nil
		}
	}
	c.DeadlockAnnounced = true
	r.announce(ctx, c, announce.KindCaseDeadlocked, "", nil, "")
	return nil
}
