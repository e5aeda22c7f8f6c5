package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/yawl-engine/core/pkg/persistence"
	"github.com/yawl-engine/core/pkg/yawlerr"
)

func newMockStore(t *testing.T) (*CaseStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := bun.NewDB(mockDB, pgdialect.New())
	return NewCaseStore(db), mock
}

func TestCaseStore_SaveCase_UpsertsByCaseID(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "yawl_cases"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	snapshot := []byte(`{"case_id":"case-1","spec_uri":"u","spec_version":"v1","status":"running"}`)
	require.NoError(t, store.SaveCase(ctx, tx, "case-1", snapshot))
	require.NoError(t, tx.Commit(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStore_SaveCase_RejectsMalformedSnapshotHeader(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	err = store.SaveCase(ctx, tx, "case-1", []byte(`not json`))
	assert.Error(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStore_SaveCase_RejectsForeignTx(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	err := store.SaveCase(ctx, memTx{}, "case-1", []byte(`{}`))
	assert.Error(t, err)
}

type memTx struct{}

func (memTx) Commit(context.Context) error   { return nil }
func (memTx) Rollback(context.Context) error { return nil }

func TestCaseStore_LoadCase_NotFoundTranslatesToSentinelError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT (.+) FROM "yawl_cases"`).
		WillReturnRows(sqlmock.NewRows([]string{"case_id", "spec_uri", "spec_version", "status", "snapshot", "updated_at"}))

	_, err := store.LoadCase(ctx, "ghost")
	assert.ErrorIs(t, err, yawlerr.ErrCaseNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStore_LoadCase_ReturnsStoredSnapshot(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"case_id", "spec_uri", "spec_version", "status", "snapshot", "updated_at"}).
		AddRow("case-1", "u", "v1", "running", []byte(`{"x":1}`), time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM "yawl_cases"`).WillReturnRows(rows)

	snap, err := store.LoadCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(snap))
}

func TestCaseStore_DeleteCase_ExecutesDeleteWithinTx(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "yawl_cases"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, store.DeleteCase(ctx, tx, "case-1"))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStore_ListCaseIDs_ReturnsScannedColumn(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"case_id"}).AddRow("case-1").AddRow("case-2")
	mock.ExpectQuery(`SELECT (.+) FROM "yawl_cases"`).WillReturnRows(rows)

	ids, err := store.ListCaseIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"case-1", "case-2"}, ids)
}

func TestCaseStore_SaveSpecification_UpsertsByURIAndVersion(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "yawl_specifications"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	rec := persistence.SpecificationRecord{URI: "u1", Version: "v1", Document: []byte(`{}`)}
	require.NoError(t, store.SaveSpecification(ctx, tx, rec))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseStore_LoadSpecifications_ReturnsAllRows(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"uri", "version", "document", "created_at"}).
		AddRow("u1", "v1", []byte(`{}`), time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM "yawl_specifications"`).WillReturnRows(rows)

	recs, err := store.LoadSpecifications(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "u1", recs[0].URI)
}
