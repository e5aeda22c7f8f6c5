// Package persistence defines the PersistenceAdapter boundary the engine
// facade's persistent variant commits case and specification state through
// (SPEC_FULL.md A.6.4, A.9).
package persistence

import "context"

// Tx represents an open transaction a caller commits or rolls back exactly
// once. Concrete adapters return their own type satisfying this interface
// (e.g. a Bun transaction wrapper); the engine facade never inspects it beyond
// passing it back to Commit/Rollback.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SpecificationRecord is the on-disk form of a loaded specification: its
// identity plus the serialized document an adapter's own loader parses (this
// package is agnostic to the wire format of the specification document itself).
type SpecificationRecord struct {
	URI      string
	Version  string
	Document []byte
}

// Adapter is the persistence boundary: every write the engine facade's
// persistent variant performs against case state goes through BeginTx plus one
// of SaveCase/DeleteCase, and is rolled back on any failure so the in-memory
// mutation and the durable record never diverge (A.7's resource-error handling
// note: "revert the in-memory mutation on commit failure").
type Adapter interface {
	BeginTx(ctx context.Context) (Tx, error)

	// SaveCase persists a case snapshot (runtime.Case.Snapshot's output) keyed by
	// case ID, overwriting any prior snapshot for the same ID.
	SaveCase(ctx context.Context, tx Tx, caseID string, snapshot []byte) error
	// LoadCase retrieves the most recently saved snapshot for caseID.
	LoadCase(ctx context.Context, caseID string) ([]byte, error)
	// DeleteCase removes a case's persisted snapshot once it is completed,
	// cancelled, and no longer needed (retention policy is the caller's concern).
	DeleteCase(ctx context.Context, tx Tx, caseID string) error
	// ListCaseIDs returns every case ID with a persisted snapshot, used to
	// repopulate the in-memory case index at startup.
	ListCaseIDs(ctx context.Context) ([]string, error)

	// SaveSpecification persists a loaded specification's document.
	SaveSpecification(ctx context.Context, tx Tx, rec SpecificationRecord) error
	// LoadSpecifications retrieves every persisted specification document, used
	// to repopulate the specification registry at startup.
	LoadSpecifications(ctx context.Context) ([]SpecificationRecord, error)
}
