// Package memory implements an in-memory persistence.Adapter: a convenient
// adapter for tests that exercise the persistent variant's commit/rollback
// contract without a real database. The stateless engine facade variant does
// not use it. Grounded on
// internal/infrastructure/storage/execution_repository.go's shape, stripped of
// Bun and backed by a guarded map instead.
package memory

import (
	"context"
	"sync"

	"github.com/yawl-engine/core/pkg/persistence"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

type tx struct{}

func (tx) Commit(context.Context) error   { return nil }
func (tx) Rollback(context.Context) error { return nil }

// Adapter is a sync.Mutex-guarded map standing in for durable storage.
type Adapter struct {
	mu    sync.Mutex
	cases map[string][]byte
	specs map[string]persistence.SpecificationRecord
}

func New() *Adapter {
	return &Adapter{
		cases: make(map[string][]byte),
		specs: make(map[string]persistence.SpecificationRecord),
	}
}

func (a *Adapter) BeginTx(context.Context) (persistence.Tx, error) { return tx{}, nil }

func (a *Adapter) SaveCase(_ context.Context, _ persistence.Tx, caseID string, snapshot []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	a.cases[caseID] = cp
	return nil
}

func (a *Adapter) LoadCase(_ context.Context, caseID string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.cases[caseID]
	if !ok {
		return nil, yawlerr.ErrCaseNotFound
	}
	cp := make([]byte, len(snap))
	copy(cp, snap)
	return cp, nil
}

func (a *Adapter) DeleteCase(_ context.Context, _ persistence.Tx, caseID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cases, caseID)
	return nil
}

func (a *Adapter) ListCaseIDs(context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.cases))
	for id := range a.cases {
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *Adapter) SaveSpecification(_ context.Context, _ persistence.Tx, rec persistence.SpecificationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs[rec.URI+"@"+rec.Version] = rec
	return nil
}

func (a *Adapter) LoadSpecifications(context.Context) ([]persistence.SpecificationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]persistence.SpecificationRecord, 0, len(a.specs))
	for _, rec := range a.specs {
		out = append(out, rec)
	}
	return out, nil
}
