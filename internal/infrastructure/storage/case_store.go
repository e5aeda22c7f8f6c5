package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/yawl-engine/core/internal/infrastructure/storage/models"
	"github.com/yawl-engine/core/pkg/persistence"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

// CaseStore implements persistence.Adapter on top of Bun, the reference
// codebase's own ORM (internal/infrastructure/storage/execution_repository.go).
// A case's snapshot is stored as an opaque blob; case_id/spec_uri/spec_version/
// status are pulled out into their own indexed columns purely for listing and
// filtering, following ExecutionModel's split between queryable columns and a
// jsonb/bytea payload.
type CaseStore struct {
	db *bun.DB
}

func NewCaseStore(db *bun.DB) *CaseStore {
	return &CaseStore{db: db}
}

// CreateSchema creates the tables this store needs, mirroring
// internal/infrastructure/storage/migrate.go's style for a small, self-contained
// schema rather than a full migration framework entry.
func (s *CaseStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*models.CaseModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create yawl_cases table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*models.SpecificationModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create yawl_specifications table: %w", err)
	}
	return nil
}

type bunTx struct{ tx bun.Tx }

func (t bunTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t bunTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func (s *CaseStore) BeginTx(ctx context.Context) (persistence.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &yawlerr.ResourceError{Op: "begin transaction", Err: err}
	}
	return bunTx{tx}, nil
}

func asBunTx(tx persistence.Tx) (bun.Tx, error) {
	bt, ok := tx.(bunTx)
	if !ok {
		return bun.Tx{}, errors.New("storage: tx not created by CaseStore.BeginTx")
	}
	return bt.tx, nil
}

// snapshotHeader extracts the columns the store indexes without decoding the
// whole snapshot, matching runtime.Snapshot's json tags.
type snapshotHeader struct {
	CaseID      string `json:"case_id"`
	SpecURI     string `json:"spec_uri"`
	SpecVersion string `json:"spec_version"`
	Status      string `json:"status"`
}

func (s *CaseStore) SaveCase(ctx context.Context, tx persistence.Tx, caseID string, snapshot []byte) error {
	bt, err := asBunTx(tx)
	if err != nil {
		return err
	}
	var hdr snapshotHeader
	if err := json.Unmarshal(snapshot, &hdr); err != nil {
		return &yawlerr.ResourceError{Op: "save case", Err: err}
	}
	row := &models.CaseModel{
		CaseID:      caseID,
		SpecURI:     hdr.SpecURI,
		SpecVersion: hdr.SpecVersion,
		Status:      hdr.Status,
		Snapshot:    snapshot,
		UpdatedAt:   time.Now(),
	}
	_, err = bt.NewInsert().
		Model(row).
		On("CONFLICT (case_id) DO UPDATE").
		Set("spec_uri = EXCLUDED.spec_uri").
		Set("spec_version = EXCLUDED.spec_version").
		Set("status = EXCLUDED.status").
		Set("snapshot = EXCLUDED.snapshot").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return &yawlerr.ResourceError{Op: "save case " + caseID, Err: err}
	}
	return nil
}

func (s *CaseStore) LoadCase(ctx context.Context, caseID string) ([]byte, error) {
	row := &models.CaseModel{}
	err := s.db.NewSelect().Model(row).Where("case_id = ?", caseID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, yawlerr.ErrCaseNotFound
		}
		return nil, &yawlerr.ResourceError{Op: "load case " + caseID, Err: err}
	}
	return row.Snapshot, nil
}

func (s *CaseStore) DeleteCase(ctx context.Context, tx persistence.Tx, caseID string) error {
	bt, err := asBunTx(tx)
	if err != nil {
		return err
	}
	_, err = bt.NewDelete().Model((*models.CaseModel)(nil)).Where("case_id = ?", caseID).Exec(ctx)
	if err != nil {
		return &yawlerr.ResourceError{Op: "delete case " + caseID, Err: err}
	}
	return nil
}

func (s *CaseStore) ListCaseIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*models.CaseModel)(nil)).Column("case_id").Scan(ctx, &ids)
	if err != nil {
		return nil, &yawlerr.ResourceError{Op: "list case ids", Err: err}
	}
	return ids, nil
}

func (s *CaseStore) SaveSpecification(ctx context.Context, tx persistence.Tx, rec persistence.SpecificationRecord) error {
	bt, err := asBunTx(tx)
	if err != nil {
		return err
	}
	row := &models.SpecificationModel{URI: rec.URI, Version: rec.Version, Document: rec.Document, CreatedAt: time.Now()}
	_, err = bt.NewInsert().
		Model(row).
		On("CONFLICT (uri, version) DO UPDATE").
		Set("document = EXCLUDED.document").
		Exec(ctx)
	if err != nil {
		return &yawlerr.ResourceError{Op: "save specification " + rec.URI, Err: err}
	}
	return nil
}

func (s *CaseStore) LoadSpecifications(ctx context.Context) ([]persistence.SpecificationRecord, error) {
	var rows []models.SpecificationModel
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, &yawlerr.ResourceError{Op: "load specifications", Err: err}
	}
	out := make([]persistence.SpecificationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, persistence.SpecificationRecord{URI: row.URI, Version: row.Version, Document: row.Document})
	}
	return out, nil
}

var _ persistence.Adapter = (*CaseStore)(nil)
