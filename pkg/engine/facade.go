// Package engine implements the Engine Facade: the single public surface over
// the Net Runner/Work Item Lifecycle Manager kernel, in two variants that share
// every byte of kernel code and differ only in their injected CommitStrategy
// (SPEC_FULL.md A.4.6, A.9). Grounded on
// internal/application/engine/execution_manager.go's composition of runner,
// repository, and observer manager behind one facade type.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yawl-engine/core/pkg/announce"
	"github.com/yawl-engine/core/pkg/kernel"
	"github.com/yawl-engine/core/pkg/runtime"
	"github.com/yawl-engine/core/pkg/spec"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// Engine is the facade: it owns the live case index, the specification
// registry, the kernel Runner, and the Announcer, and funnels every public
// operation through a lock-mutate-commit-flush sequence (A.5).
type Engine struct {
	mu    sync.RWMutex
	cases map[string]*runtime.Case

	registry  *spec.Registry
	runner    *kernel.Runner
	announcer *announce.Announcer
	commit    CommitStrategy

	clock   func() time.Time
	newID   func() string
	evictor *IdleEvictor
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the facade's time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator overrides how new case IDs are minted, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithIdleEvictor attaches an IdleEvictor, used by the stateless facade
// variant: every successful mutation touches the evictor's local clock in
// addition to the CommitStrategy's own Touch bookkeeping.
func WithIdleEvictor(v *IdleEvictor) Option {
	return func(e *Engine) { e.evictor = v }
}

// New constructs an Engine. commit selects the persistent or stateless variant
// (see NewPersistentCommit/NewStatelessCommit); both share the same runner and
// registry.
func New(registry *spec.Registry, runner *kernel.Runner, announcer *announce.Announcer, commit CommitStrategy, opts ...Option) *Engine {
	e := &Engine{
		cases:     make(map[string]*runtime.Case),
		registry:  registry,
		runner:    runner,
		announcer: announcer,
		commit:    commit,
		clock:     time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadSpecification registers a validated specification for use by
// LaunchCase, per A.4.6.
func (e *Engine) LoadSpecification(s *spec.Specification) error {
	return e.registry.Load(s)
}

// UnloadSpecification removes a specification, failing if any live case still
// references it.
func (e *Engine) UnloadSpecification(uri, version string) error {
	return e.registry.Unload(uri, version)
}

// withCase runs fn against the named case under its lock, commits the result,
// and rolls the in-memory state back to its pre-mutation snapshot if fn or the
// commit fails (A.7's "any partial mutation is rolled back before return").
// Deferred listener delivery is flushed only after the lock is released.
func (e *Engine) withCase(ctx context.Context, caseID string, fn func(*runtime.Case) error) error {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return yawlerr.ErrCaseNotFound
	}

	c.Lock()
	before, snapErr := c.Snapshot()
	err := fn(c)
	if err != nil {
		if snapErr == nil {
			_ = c.RestoreFrom(before)
		}
	} else if cerr := e.commit.Commit(ctx, c); cerr != nil {
		if snapErr == nil {
			_ = c.RestoreFrom(before)
		}
		err = cerr
	}
	c.Unlock()

	now := e.clock()
	e.commit.Touch(ctx, caseID, now)
	if e.evictor != nil {
		e.evictor.Touch(caseID, now)
	}
	e.announcer.Flush(ctx, caseID)
	return err
}

// LaunchCase creates a new case against (specURI, specVersion), seeds it with
// input, and drives it forward to its first fixed point (A.4.6's launchCase).
func (e *Engine) LaunchCase(ctx context.Context, specURI, specVersion string, input map[string]any) (string, error) {
	sp, err := e.registry.Get(specURI, specVersion)
	if err != nil {
		return "", err
	}
	root, err := sp.GetRootNet()
	if err != nil {
		return "", err
	}
	caseID := e.newID()
	c := runtime.New(caseID, specURI, specVersion, root.ID, e.clock())

	e.mu.Lock()
	e.cases[caseID] = c
	e.mu.Unlock()

	e.registry.AcquireRef(specURI, specVersion)

	if err := e.withCase(ctx, caseID, func(c *runtime.Case) error {
		return e.runner.Launch(ctx, sp, c, input)
	}); err != nil {
		e.mu.Lock()
		delete(e.cases, caseID)
		e.mu.Unlock()
		e.registry.ReleaseRef(specURI, specVersion)
		return "", err
	}
	return caseID, nil
}

func (e *Engine) specFor(c *runtime.Case) (*spec.Specification, error) {
	return e.registry.Get(c.SpecURI, c.SpecVersion)
}

// ListWorkItems returns every work item for caseID matching filter (the zero
// WorkItemFilter = all), per A.4.6's listWorkItems.
func (e *Engine) ListWorkItems(caseID string, filter runtime.WorkItemFilter) ([]*runtime.WorkItem, error) {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return nil, yawlerr.ErrCaseNotFound
	}
	c.Lock()
	defer c.Unlock()
	return c.ListWorkItems(filter), nil
}

// CheckOutWorkItem assigns an enabled work item to an external resource
// handle, moving it to fired.
func (e *Engine) CheckOutWorkItem(ctx context.Context, caseID, workItemID, resourceHandle string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.CheckOutWorkItem(ctx, sp, c, workItemID, resourceHandle)
	})
}

// StartWorkItem moves a fired work item to executing.
func (e *Engine) StartWorkItem(ctx context.Context, caseID, workItemID string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.StartWorkItem(ctx, sp, c, workItemID)
	})
}

// CheckInWorkItem reports a work item's result and drives the case forward
// (A.4.6's checkInWorkItem).
func (e *Engine) CheckInWorkItem(ctx context.Context, caseID, workItemID string, output map[string]any) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.CompleteWorkItem(ctx, sp, c, workItemID, output)
	})
}

// FailWorkItem reports a work item's external handler failure.
func (e *Engine) FailWorkItem(ctx context.Context, caseID, workItemID, reason string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.FailWorkItem(ctx, sp, c, workItemID, reason)
	})
}

// SuspendCase marks caseID suspended; work item statuses are left unchanged.
func (e *Engine) SuspendCase(ctx context.Context, caseID string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		return e.runner.SuspendCase(ctx, c)
	})
}

// ResumeCase resumes a previously suspended case and drives it forward.
func (e *Engine) ResumeCase(ctx context.Context, caseID string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.ResumeCase(ctx, sp, c)
	})
}

// CancelCase cancels every non-terminal work item in caseID and marks the case
// cancelled.
func (e *Engine) CancelCase(ctx context.Context, caseID string) error {
	return e.withCase(ctx, caseID, func(c *runtime.Case) error {
		sp, err := e.specFor(c)
		if err != nil {
			return err
		}
		return e.runner.CancelCase(ctx, sp, c)
	})
}

// ExportCase returns caseID's current snapshot, per A.4.6's exportCase.
func (e *Engine) ExportCase(caseID string) ([]byte, error) {
	e.mu.RLock()
	c, ok := e.cases[caseID]
	e.mu.RUnlock()
	if !ok {
		return nil, yawlerr.ErrCaseNotFound
	}
	c.Lock()
	defer c.Unlock()
	return c.Snapshot()
}

// ImportCase restores a case from a previously exported snapshot and
// registers it as live, per A.4.6's importCase.
func (e *Engine) ImportCase(snapshot []byte) (string, error) {
	c, err := runtime.Restore(snapshot)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.cases[c.ID] = c
	e.mu.Unlock()
	e.registry.AcquireRef(c.SpecURI, c.SpecVersion)
	return c.ID, nil
}

// evictCase drops caseID from the live index and releases its specification
// reference, used by IdleEvictor.Sweep (stateless variant). Completed cases
// are not passed through it and stay in the live index.
func (e *Engine) evictCase(ctx context.Context, caseID string) error {
	e.mu.Lock()
	c, ok := e.cases[caseID]
	delete(e.cases, caseID)
	e.mu.Unlock()
	if !ok {
		return yawlerr.ErrCaseNotFound
	}
	e.registry.ReleaseRef(c.SpecURI, c.SpecVersion)
	if e.evictor != nil {
		e.evictor.Forget(caseID)
	}
	return e.commit.Delete(ctx, caseID)
}

// RegisterListener adds a listener to the facade's announcer.
func (e *Engine) RegisterListener(l announce.Listener, mode announce.DeliveryMode) error {
	return e.announcer.Register(l, mode)
}

// UnregisterListener removes a listener by name.
func (e *Engine) UnregisterListener(name string) error {
	return e.announcer.Unregister(name)
}
