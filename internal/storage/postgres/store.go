package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/storage"
)

// Store implements storage.Store on top of three tables: models,
// model_operations, and model_snapshots (SPEC_FULL.md §4.9).
type Store struct{ db *DB }

// NewStore constructs a Store over an already-opened connection pool.
func NewStore(db *DB) *Store { return &Store{db: db} }

func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

func (s *Store) LoadModel(ctx context.Context, id string) (storage.LoadedModel, error) {
	const q = `SELECT id, collection_id, version, created_at, modified_at FROM models WHERE id=$1`
	row := s.db.Pool.QueryRow(ctx, q, id)
	var m model.Model
	if err := row.Scan(&m.ID, &m.CollectionID, &m.Version, &m.CreatedAt, &m.ModifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.LoadedModel{}, storage.ErrNotFound
		}
		return storage.LoadedModel{}, err
	}

	const sq = `SELECT version, root FROM model_snapshots WHERE model_id=$1 ORDER BY version DESC LIMIT 1`
	srow := s.db.Pool.QueryRow(ctx, sq, id)
	var version uint64
	var rootBytes []byte
	switch err := srow.Scan(&version, &rootBytes); {
	case err == nil:
		root, derr := model.DecodeValue(rootBytes)
		if derr != nil {
			return storage.LoadedModel{}, derr
		}
		m.Root = root.(*model.ObjectValue)
		return storage.LoadedModel{Meta: m, LatestSnapshotRoot: m.Root, LatestSnapshotVer: version, HasSnapshot: true}, nil
	case errors.Is(err, pgx.ErrNoRows):
		m.Root = model.NewObjectValue("s0")
		return storage.LoadedModel{Meta: m, HasSnapshot: false}, nil
	default:
		return storage.LoadedModel{}, err
	}
}

func (s *Store) CreateModel(ctx context.Context, id, collectionID string, root *model.ObjectValue, createdAt time.Time) error {
	const ins = `INSERT INTO models (id, collection_id, version, created_at, modified_at) VALUES ($1,$2,0,$3,$3)`
	if _, err := s.db.Pool.Exec(ctx, ins, id, collectionID, createdAt); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return err
	}
	snap := model.Snapshot{ModelID: id, Version: 0, Timestamp: createdAt, Root: root}
	return s.WriteSnapshot(ctx, snap)
}

func (s *Store) DeleteModel(ctx context.Context, id string) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `DELETE FROM model_operations WHERE model_id=$1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM model_snapshots WHERE model_id=$1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM models WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Touch(ctx context.Context, id string, version uint64, modifiedAt time.Time) error {
	const upd = `UPDATE models SET version=$2, modified_at=$3 WHERE id=$1`
	_, err := s.db.Pool.Exec(ctx, upd, id, version, modifiedAt)
	return err
}

func (s *Store) LoadOperations(ctx context.Context, modelID string, fromVersionExclusive uint64) ([]model.LogEntry, error) {
	const q = `SELECT version, ts, session_id, op_body FROM model_operations WHERE model_id=$1 AND version>$2 ORDER BY version ASC`
	rows, err := s.db.Pool.Query(ctx, q, modelID, fromVersionExclusive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var version uint64
		var ts time.Time
		var sessionID string
		var opBody []byte
		if err := rows.Scan(&version, &ts, &sessionID, &opBody); err != nil {
			return nil, err
		}
		op, derr := model.DecodeOp(opBody)
		if derr != nil {
			return nil, derr
		}
		out = append(out, model.LogEntry{ModelID: modelID, Version: version, Timestamp: ts, SessionID: sessionID, Op: model.AppliedOp{Op: op}})
	}
	return out, rows.Err()
}

func (s *Store) AppendOperation(ctx context.Context, entry model.LogEntry) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT COALESCE(MAX(version), 0) FROM model_operations WHERE model_id=$1`
	var maxVersion uint64
	if err := tx.QueryRow(ctx, sel, entry.ModelID).Scan(&maxVersion); err != nil {
		return err
	}
	if entry.Version != maxVersion+1 {
		return fmt.Errorf("model %s: %w", entry.ModelID, storage.ErrNonDenseVersion)
	}

	const ins = `INSERT INTO model_operations (model_id, version, ts, session_id, op_kind, op_body) VALUES ($1,$2,$3,$4,$5,$6)`
	opBody := model.EncodeOp(entry.Op.Op)
	if _, err := tx.Exec(ctx, ins, entry.ModelID, entry.Version, entry.Timestamp, entry.SessionID, uint8(entry.Op.Op.Kind()), opBody); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) WriteSnapshot(ctx context.Context, snap model.Snapshot) error {
	const ins = `INSERT INTO model_snapshots (model_id, version, ts, root) VALUES ($1,$2,$3,$4) ON CONFLICT (model_id, version) DO NOTHING`
	_, err := s.db.Pool.Exec(ctx, ins, snap.ModelID, snap.Version, snap.Timestamp, model.EncodeValue(snap.Root))
	return err
}

var _ storage.Store = (*Store)(nil)
