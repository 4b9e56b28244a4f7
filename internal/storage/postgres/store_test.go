package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/storage"
)

func newStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewStore(&DB{Pool: mock}), mock
}

func TestLoadModelNotFound(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, collection_id, version, created_at, modified_at FROM models WHERE id=\$1`).
		WithArgs("m1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadModel(context.Background(), "m1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadModelWithSnapshot(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	mock.ExpectQuery(`SELECT id, collection_id, version, created_at, modified_at FROM models WHERE id=\$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "collection_id", "version", "created_at", "modified_at"}).
			AddRow("m1", "c1", uint64(3), now, now))

	root := model.NewObjectValue("s0")
	root.Children["a"] = &model.StringValue{Vid: "s1", Value: "hi"}
	encoded := model.EncodeValue(root)

	mock.ExpectQuery(`SELECT version, root FROM model_snapshots WHERE model_id=\$1 ORDER BY version DESC LIMIT 1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"version", "root"}).AddRow(uint64(2), encoded))

	loaded, err := s.LoadModel(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, loaded.HasSnapshot)
	require.Equal(t, uint64(2), loaded.LatestSnapshotVer)
	require.Equal(t, "hi", loaded.LatestSnapshotRoot.Children["a"].(*model.StringValue).Value)
}

func TestCreateModelAlreadyExists(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO models`).
		WithArgs("m1", "c1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	root := model.NewObjectValue("s0")
	err := s.CreateModel(context.Background(), "m1", "c1", root, time.Now())
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestAppendOperationRejectsNonDenseVersion(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM model_operations WHERE model_id=\$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(uint64(5)))
	mock.ExpectRollback()

	entry := model.LogEntry{
		ModelID:   "m1",
		Version:   7,
		Timestamp: time.Now(),
		SessionID: "alpha",
		Op:        model.AppliedOp{Op: model.NumberAddOp{Vid: "n0", Value: 1}},
	}
	err := s.AppendOperation(context.Background(), entry)
	require.ErrorIs(t, err, storage.ErrNonDenseVersion)
}

func TestAppendOperationOK(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM model_operations WHERE model_id=\$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(uint64(5)))
	mock.ExpectExec(`INSERT INTO model_operations`).
		WithArgs("m1", uint64(6), pgxmock.AnyArg(), "alpha", uint8(model.OpNumberAdd), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	entry := model.LogEntry{
		ModelID:   "m1",
		Version:   6,
		Timestamp: time.Now(),
		SessionID: "alpha",
		Op:        model.AppliedOp{Op: model.NumberAddOp{Vid: "n0", Value: 1}},
	}
	err := s.AppendOperation(context.Background(), entry)
	require.NoError(t, err)
}

func TestWriteSnapshotIdempotent(t *testing.T) {
	s, mock := newStore(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO model_snapshots`).
		WithArgs("m1", uint64(2), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	snap := model.Snapshot{ModelID: "m1", Version: 2, Timestamp: time.Now(), Root: model.NewObjectValue("s0")}
	err := s.WriteSnapshot(context.Background(), snap)
	require.NoError(t, err)
}
