// Package worker forwards locally queued patches to the upstream ledger API
// and keeps the SQLite mirror fresh.
package worker

import (
	"context"
	"errors"
	"fmt"

	"lancamentos/internal/amqp"
	"lancamentos/internal/log"
	"lancamentos/internal/ports"
	"lancamentos/internal/rest"
	"lancamentos/internal/storage"
	"lancamentos/internal/wire"
)

// errAwaitingCreate is returned when a patch targets an entry whose create
// has not reached upstream yet.
var errAwaitingCreate = errors.New("entry not created upstream yet")

// Outbox is the part of the SQLite mirror the worker drives.
type Outbox interface {
	ListEntries(ctx context.Context) ([]wire.Record, error)
	GetPatch(ctx context.Context, id string) (storage.PendingPatch, error)
	PendingPatches(ctx context.Context, limit int) ([]storage.PendingPatch, error)
	MarkPatchSynced(ctx context.Context, id string, remoteID int64) error
	MarkPatchFailed(ctx context.Context, id string, cause error) (storage.PendingPatch, error)
	ReplaceEntries(ctx context.Context, records []wire.Record) error
	ReplaceLookups(ctx context.Context, kind wire.LookupKind, records []wire.RefRecord) error
}

// SyncWorker forwards outbox patches upstream.
type SyncWorker struct {
	outbox    Outbox
	upstream  ports.Ledger
	logger    *log.Logger
	batchSize int
}

func NewSyncWorker(outbox Outbox, upstream ports.Ledger, logger *log.Logger, batchSize int) *SyncWorker {
	if logger == nil {
		logger = log.Discard()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{
		outbox:    outbox,
		upstream:  upstream,
		logger:    logger.WithComponent(log.ComponentWorker),
		batchSize: batchSize,
	}
}

// HandlePatchMessage processes one queue message. Returning an error asks
// the queue to redeliver it.
func (w *SyncWorker) HandlePatchMessage(ctx context.Context, msg *amqp.PatchMessage) error {
	w.logger.InfoContext(ctx, "Processing patch message",
		log.FieldPatchID, msg.PatchID,
		log.FieldEntryID, msg.EntryID,
		log.FieldOperation, string(msg.Op))

	p, err := w.outbox.GetPatch(ctx, msg.PatchID)
	if errors.Is(err, storage.ErrPatchNotFound) {
		w.logger.WarnContext(ctx, "Dropping message for unknown patch", log.FieldPatchID, msg.PatchID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get patch from storage: %w", err)
	}
	if p.Status != storage.PatchPending {
		// redelivery of a patch already handled
		return nil
	}

	err = w.forward(ctx, p)
	if errors.Is(err, errAwaitingCreate) {
		// ProcessPending picks it up once the create is synced
		return nil
	}
	if err != nil {
		return w.fail(ctx, p, err)
	}
	return nil
}

// ProcessPending forwards up to one batch of pending patches, oldest
// first. It covers messages lost while the queue was unavailable.
func (w *SyncWorker) ProcessPending(ctx context.Context) (int, error) {
	patches, err := w.outbox.PendingPatches(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending patches: %w", err)
	}
	if len(patches) == 0 {
		return 0, nil
	}

	w.logger.DebugContext(ctx, "Processing pending patches", log.FieldCount, len(patches))

	synced := 0
	for _, p := range patches {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		err := w.forward(ctx, p)
		if errors.Is(err, errAwaitingCreate) {
			continue
		}
		if err != nil {
			w.fail(ctx, p, err)
			continue
		}
		synced++
	}
	return synced, nil
}

// RefreshMirror replaces the mirrored entries and lookups with a fresh
// upstream snapshot.
func (w *SyncWorker) RefreshMirror(ctx context.Context) error {
	records, err := w.upstream.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("list upstream entries: %w", err)
	}
	lookups, err := rest.FetchAllLookups(ctx, w.upstream)
	if err != nil {
		return fmt.Errorf("list upstream lookups: %w", err)
	}

	if err := w.outbox.ReplaceEntries(ctx, records); err != nil {
		return fmt.Errorf("replace mirrored entries: %w", err)
	}
	for _, kind := range wire.LookupKinds {
		if err := w.outbox.ReplaceLookups(ctx, kind, lookups[kind]); err != nil {
			return fmt.Errorf("replace mirrored %s: %w", kind, err)
		}
	}

	w.logger.InfoContext(ctx, "Mirror refreshed",
		log.FieldOperation, log.OpRefresh,
		log.FieldCount, len(records))
	return nil
}

func (w *SyncWorker) forward(ctx context.Context, p storage.PendingPatch) error {
	if p.Op != storage.OpCreate && p.EntryID < 0 {
		return errAwaitingCreate
	}

	var remoteID int64
	switch p.Op {
	case storage.OpCreate:
		id, err := w.upstream.CreateEntry(ctx, p.Body)
		if err != nil {
			return fmt.Errorf("create upstream entry: %w", err)
		}
		if id <= 0 {
			id = w.recoverCreatedID(ctx, p)
		}
		remoteID = id
	case storage.OpUpdate:
		if err := w.upstream.UpdateEntry(ctx, p.EntryID, p.Body); err != nil {
			return fmt.Errorf("update upstream entry %d: %w", p.EntryID, err)
		}
		remoteID = p.EntryID
	case storage.OpDelete:
		err := w.upstream.DeleteEntry(ctx, p.EntryID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("delete upstream entry %d: %w", p.EntryID, err)
		}
		remoteID = p.EntryID
	default:
		return fmt.Errorf("unknown patch op %q", p.Op)
	}

	if err := w.outbox.MarkPatchSynced(ctx, p.ID, remoteID); err != nil {
		// upstream already has the change; a retry would apply it twice
		w.logger.ErrorContext(ctx, "Failed to mark patch synced",
			log.FieldPatchID, p.ID,
			log.FieldError, err)
		return nil
	}

	w.logger.InfoContext(ctx, "Patch forwarded",
		log.FieldPatchID, p.ID,
		log.FieldEntryID, remoteID,
		log.FieldOperation, string(p.Op),
		log.FieldPatchKeys, p.Body.Keys())
	return nil
}

// recoverCreatedID finds the id of an entry upstream created without
// echoing it back: the single upstream entry the mirror has not seen yet
// with the description the create sent. It returns 0 when there is no
// unambiguous match.
func (w *SyncWorker) recoverCreatedID(ctx context.Context, p storage.PendingPatch) int64 {
	remote, err := w.upstream.ListEntries(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Cannot list upstream entries to recover created id",
			log.FieldPatchID, p.ID,
			log.FieldError, err)
		return 0
	}
	local, err := w.outbox.ListEntries(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Cannot list mirrored entries to recover created id",
			log.FieldPatchID, p.ID,
			log.FieldError, err)
		return 0
	}
	known := make(map[int64]bool, len(local))
	for _, rec := range local {
		known[int64(rec.ID)] = true
	}
	description, hasDescription := p.Body["descricao"].(string)

	var found int64
	for _, rec := range remote {
		id := int64(rec.ID)
		if id <= 0 || known[id] {
			continue
		}
		if hasDescription && string(rec.Description) != description {
			continue
		}
		if found != 0 {
			w.logger.WarnContext(ctx, "Created entry id is ambiguous",
				log.FieldPatchID, p.ID,
				log.FieldEntryID, p.EntryID)
			return 0
		}
		found = id
	}
	if found != 0 {
		w.logger.InfoContext(ctx, "Recovered id of created entry",
			log.FieldPatchID, p.ID,
			log.FieldEntryID, found)
	}
	return found
}

// fail records a failed forward and returns the error to redeliver, or nil
// once the patch has been parked.
func (w *SyncWorker) fail(ctx context.Context, p storage.PendingPatch, cause error) error {
	updated, err := w.outbox.MarkPatchFailed(ctx, p.ID, cause)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to record patch failure",
			log.FieldPatchID, p.ID,
			log.FieldError, err)
		return cause
	}
	if updated.Status == storage.PatchFailed {
		log.NewStructuredLogger(w.logger).LogError(ctx, "Patch parked after repeated failures", cause,
			log.ComponentWorker, log.OpSync,
			log.NewFields().WithPatch(p.ID, updated.Attempts).WithEntry(p.EntryID))
		return nil
	}
	w.logger.WarnContext(ctx, "Patch forward failed",
		log.FieldPatchID, p.ID,
		log.FieldAttempts, updated.Attempts,
		log.FieldError, cause)
	return cause
}
