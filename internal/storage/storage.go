// Package storage defines the Persistence Interface (spec §4.7) consumed
// by the coordinator. Concrete backends (internal/storage/postgres) depend
// on these interfaces, not the other way around, so the coordinator can be
// tested against a fake without touching a database.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rectcircle/convergence-server/internal/model"
)

// Sentinel errors, mirroring the pack's errs sentinel-package convention.
var (
	// ErrAlreadyExists is returned by CreateModel when the model id is
	// already present.
	ErrAlreadyExists = errors.New("storage: model already exists")
	// ErrNotFound is returned when a model lookup finds nothing.
	ErrNotFound = errors.New("storage: model not found")
	// ErrNonDenseVersion is returned by AppendOperation when the supplied
	// version does not immediately follow the current latest version.
	ErrNonDenseVersion = errors.New("storage: operation version is not dense")
)

// LoadedModel is the result of loading a model's metadata plus the version
// of its latest snapshot, if any (spec §4.7 "loadModel").
type LoadedModel struct {
	Meta               model.Model
	LatestSnapshotRoot *model.ObjectValue
	LatestSnapshotVer  uint64
	HasSnapshot        bool
}

// ModelStore manages model metadata lifecycle.
type ModelStore interface {
	// LoadModel returns the model's metadata and latest snapshot, if any.
	// Returns ErrNotFound if the model does not exist.
	LoadModel(ctx context.Context, id string) (LoadedModel, error)
	// CreateModel creates a new model with the given cold-start root.
	// Returns ErrAlreadyExists if id is taken.
	CreateModel(ctx context.Context, id, collectionID string, root *model.ObjectValue, createdAt time.Time) error
	// DeleteModel removes the model and cascades to its operations and
	// snapshots.
	DeleteModel(ctx context.Context, id string) error
	// Touch updates a model's version and modifiedAt after an operation is
	// appended.
	Touch(ctx context.Context, id string, version uint64, modifiedAt time.Time) error
}

// OperationStore manages the append-only operation log.
type OperationStore interface {
	// LoadOperations returns every logged operation with version greater
	// than fromVersionExclusive, in ascending version order.
	LoadOperations(ctx context.Context, modelID string, fromVersionExclusive uint64) ([]model.LogEntry, error)
	// AppendOperation appends one entry. Must be atomic and reject
	// non-dense versions with ErrNonDenseVersion.
	AppendOperation(ctx context.Context, entry model.LogEntry) error
}

// SnapshotStore manages point-in-time tree snapshots.
type SnapshotStore interface {
	// WriteSnapshot persists a snapshot. Idempotent on (ModelID, Version):
	// writing the same (id, version) twice must not error.
	WriteSnapshot(ctx context.Context, snap model.Snapshot) error
}

// Store is the full Persistence Interface the coordinator depends on.
type Store interface {
	ModelStore
	OperationStore
	SnapshotStore
}
