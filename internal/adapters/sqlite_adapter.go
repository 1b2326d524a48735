package adapters

import (
	"context"
	"fmt"

	"lancamentos/internal/amqp"
	"lancamentos/internal/log"
	"lancamentos/internal/storage"
	"lancamentos/internal/wire"
)

// Publisher announces a queued patch to the sync worker.
type Publisher interface {
	PublishPatch(ctx context.Context, patchID string, entryID int64, op amqp.PatchOp) error
}

// SQLiteAdapter serves reads from the local mirror and turns writes into
// outbox patches, so the HTTP layer works unchanged against the
// SQLite + AMQP backend.
type SQLiteAdapter struct {
	*storage.SQLiteRepository
	publisher Publisher
	logger    *log.Logger
}

// NewSQLiteAdapter wraps repo. publisher may be nil, in which case patches
// wait for the worker's periodic pass.
func NewSQLiteAdapter(repo *storage.SQLiteRepository, publisher Publisher, logger *log.Logger) *SQLiteAdapter {
	if logger == nil {
		logger = log.Discard()
	}
	return &SQLiteAdapter{
		SQLiteRepository: repo,
		publisher:        publisher,
		logger:           logger.WithComponent(log.ComponentAdapter),
	}
}

// CreateEntry returns the temporary local id of the new entry. It is
// replaced by the upstream id once the worker forwards the patch.
func (a *SQLiteAdapter) CreateEntry(ctx context.Context, patch wire.Patch) (int64, error) {
	p, err := a.enqueue(ctx, storage.OpCreate, 0, patch)
	if err != nil {
		return 0, err
	}
	return p.EntryID, nil
}

func (a *SQLiteAdapter) UpdateEntry(ctx context.Context, id int64, patch wire.Patch) error {
	_, err := a.enqueue(ctx, storage.OpUpdate, id, patch)
	return err
}

func (a *SQLiteAdapter) DeleteEntry(ctx context.Context, id int64) error {
	_, err := a.enqueue(ctx, storage.OpDelete, id, nil)
	return err
}

func (a *SQLiteAdapter) enqueue(ctx context.Context, op storage.PatchOp, id int64, patch wire.Patch) (storage.PendingPatch, error) {
	// Save to SQLite first (fast, reliable)
	p, err := a.EnqueuePatch(ctx, op, id, patch)
	if err != nil {
		return storage.PendingPatch{}, fmt.Errorf("queue %s patch: %w", op, err)
	}

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "No publisher configured, patch left for periodic sync",
			log.FieldPatchID, p.ID)
		return p, nil
	}
	if err := a.publisher.PublishPatch(ctx, p.ID, p.EntryID, amqp.PatchOp(p.Op)); err != nil {
		// the patch is stored; the worker's periodic pass forwards it
		a.logger.ErrorContext(ctx, "Failed to publish patch message",
			log.FieldPatchID, p.ID,
			log.FieldEntryID, p.EntryID,
			log.FieldError, err)
	}
	return p, nil
}
