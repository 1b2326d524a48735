// Package storage is the local SQLite mirror of the ledger API plus the
// outbox of patches still to be forwarded upstream.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lancamentos/internal/log"
	"lancamentos/internal/ports"
	"lancamentos/internal/wire"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MaxAttempts is how many failed forwards a patch gets before it is parked
// as failed.
const MaxAttempts = 5

var ErrNotFound = ports.ErrNotFound

// ErrPatchNotFound is returned when an outbox patch id is unknown.
var ErrPatchNotFound = errors.New("patch not found")

var (
	errCreatedWithoutID = errors.New("entry was created upstream without an id")
	errCreateFailed     = errors.New("create of the entry was parked as failed")
)

// PatchStatus is the outbox state of a patch.
type PatchStatus string

const (
	PatchPending PatchStatus = "pending"
	PatchSynced  PatchStatus = "synced"
	PatchFailed  PatchStatus = "failed"
)

// PatchOp mirrors the queue operations.
type PatchOp string

const (
	OpCreate PatchOp = "create"
	OpUpdate PatchOp = "update"
	OpDelete PatchOp = "delete"
)

// PendingPatch is one row of the outbox.
type PendingPatch struct {
	ID        string
	EntryID   int64
	Op        PatchOp
	Body      wire.Patch
	Status    PatchStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer at a time keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := migrateSchema(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)
	logger.Info("Mirror ready", "db_path", dbPath, "schema_version", version)
	return &SQLiteRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping implements ports.HealthChecker
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(timeLayout)
}

// ListEntries implements ports.EntrySource
func (r *SQLiteRepository) ListEntries(ctx context.Context) ([]wire.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM entries WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	records := []wire.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var rec wire.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode entry payload: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}

// GetEntry implements ports.EntrySource
func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (wire.Record, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM entries WHERE id = ? AND deleted = 0`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.Record{}, fmt.Errorf("get entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return wire.Record{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	var rec wire.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return wire.Record{}, fmt.Errorf("decode entry payload: %w", err)
	}
	return rec, nil
}

// ListLookups implements ports.LookupSource
func (r *SQLiteRepository) ListLookups(ctx context.Context, kind wire.LookupKind) ([]wire.RefRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM lookups WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []wire.RefRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		var rec wire.RefRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

// ReplaceEntries swaps the mirrored entries for a fresh upstream snapshot and
// re-applies the patches that have not reached upstream yet.
func (r *SQLiteRepository) ReplaceEntries(ctx context.Context, records []wire.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	now := r.stamp()
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode entry %d: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries (id, payload, deleted, updated_at) VALUES (?, ?, 0, ?)`,
			int64(rec.ID), string(payload), now); err != nil {
			return fmt.Errorf("insert entry %d: %w", rec.ID, err)
		}
	}

	pending, err := queryPatches(ctx, tx, `WHERE status = ? ORDER BY created_at, rowid`, string(PatchPending))
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := applyLocal(ctx, tx, p, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	r.logger.InfoContext(ctx, "Mirror entries replaced",
		log.FieldCount, len(records),
		"pending_reapplied", len(pending))
	return nil
}

// ReplaceLookups swaps the mirrored list of one lookup kind.
func (r *SQLiteRepository) ReplaceLookups(ctx context.Context, kind wire.LookupKind, records []wire.RefRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lookups WHERE kind = ?`, string(kind)); err != nil {
		return fmt.Errorf("clear %s: %w", kind, err)
	}
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s %d: %w", kind, rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO lookups (kind, id, payload) VALUES (?, ?, ?)`,
			string(kind), int64(rec.ID), string(payload)); err != nil {
			return fmt.Errorf("insert %s %d: %w", kind, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnqueuePatch records a write in the outbox and applies it to the mirror
// right away. A create gets a temporary negative entry id until upstream
// assigns the real one.
func (r *SQLiteRepository) EnqueuePatch(ctx context.Context, op PatchOp, entryID int64, body wire.Patch) (PendingPatch, error) {
	if body == nil {
		body = wire.Patch{}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return PendingPatch{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := r.stamp()
	switch op {
	case OpCreate:
		// temporary ids are never reused while any outbox row refers to them
		if err := tx.QueryRowContext(ctx,
			`SELECT MIN(
			    COALESCE((SELECT MIN(id) FROM entries WHERE id < 0), 0),
			    COALESCE((SELECT MIN(entry_id) FROM pending_patches WHERE entry_id < 0), 0)) - 1`).Scan(&entryID); err != nil {
			return PendingPatch{}, fmt.Errorf("allocate local id: %w", err)
		}
	case OpUpdate, OpDelete:
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE id = ? AND deleted = 0`, entryID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return PendingPatch{}, fmt.Errorf("%s entry %d: %w", op, entryID, ErrNotFound)
		}
		if err != nil {
			return PendingPatch{}, fmt.Errorf("check entry %d: %w", entryID, err)
		}
		if entryID < 0 {
			// a local entry whose create failed or came back without an id
			// can no longer be addressed upstream
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM pending_patches WHERE entry_id = ? AND op = ? AND status = ?`,
				entryID, string(OpCreate), string(PatchPending)).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return PendingPatch{}, fmt.Errorf("%s entry %d: %w", op, entryID, ErrNotFound)
			}
			if err != nil {
				return PendingPatch{}, fmt.Errorf("check create of entry %d: %w", entryID, err)
			}
		}
	default:
		return PendingPatch{}, fmt.Errorf("enqueue patch: unknown op %q", op)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return PendingPatch{}, fmt.Errorf("encode patch: %w", err)
	}
	p := PendingPatch{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		Op:        op,
		Body:      body,
		Status:    PatchPending,
		CreatedAt: r.now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_patches (id, entry_id, op, body, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.EntryID, string(p.Op), string(encoded), string(p.Status), now, now); err != nil {
		return PendingPatch{}, fmt.Errorf("insert patch: %w", err)
	}
	if err := applyLocal(ctx, tx, p, now); err != nil {
		return PendingPatch{}, err
	}
	if err := tx.Commit(); err != nil {
		return PendingPatch{}, fmt.Errorf("commit tx: %w", err)
	}

	r.logger.InfoContext(ctx, "Patch enqueued",
		log.FieldPatchID, p.ID,
		log.FieldEntryID, p.EntryID,
		log.FieldOperation, string(p.Op),
		log.FieldPatchKeys, p.Body.Keys())
	return p, nil
}

// applyLocal applies a patch to the mirrored entries inside tx.
func applyLocal(ctx context.Context, tx *sql.Tx, p PendingPatch, now string) error {
	switch p.Op {
	case OpCreate:
		raw, err := wire.NewRecord(p.EntryID, p.Body)
		if err != nil {
			return fmt.Errorf("build local entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entries (id, payload, deleted, updated_at) VALUES (?, ?, 0, ?)`,
			p.EntryID, string(raw), now); err != nil {
			return fmt.Errorf("insert local entry: %w", err)
		}
	case OpUpdate:
		var payload string
		err := tx.QueryRowContext(ctx, `SELECT payload FROM entries WHERE id = ?`, p.EntryID).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			// upstream no longer has it; the forward will report the conflict
			return nil
		}
		if err != nil {
			return fmt.Errorf("load entry %d: %w", p.EntryID, err)
		}
		merged, err := wire.ApplyPatch(json.RawMessage(payload), p.Body)
		if err != nil {
			return fmt.Errorf("patch entry %d: %w", p.EntryID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entries SET payload = ?, updated_at = ? WHERE id = ?`,
			string(merged), now, p.EntryID); err != nil {
			return fmt.Errorf("update entry %d: %w", p.EntryID, err)
		}
	case OpDelete:
		if _, err := tx.ExecContext(ctx,
			`UPDATE entries SET deleted = 1, updated_at = ? WHERE id = ?`, now, p.EntryID); err != nil {
			return fmt.Errorf("delete entry %d: %w", p.EntryID, err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const patchColumns = `id, entry_id, op, body, status, attempts, COALESCE(last_error, ''), created_at`

func queryPatches(ctx context.Context, q querier, where string, args ...any) ([]PendingPatch, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+patchColumns+` FROM pending_patches `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query patches: %w", err)
	}
	defer rows.Close()

	var out []PendingPatch
	for rows.Next() {
		var p PendingPatch
		var op, body, status, ts string
		if err := rows.Scan(&p.ID, &p.EntryID, &op, &body, &status, &p.Attempts, &p.LastError, &ts); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		p.Op, p.Status = PatchOp(op), PatchStatus(status)
		if p.Body, err = decodePatch(body); err != nil {
			return nil, fmt.Errorf("decode patch %s: %w", p.ID, err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patches: %w", err)
	}
	return out, nil
}

// decodePatch keeps numbers as json.Number so amounts survive unchanged.
func decodePatch(body string) (wire.Patch, error) {
	p := wire.Patch{}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPatch returns one outbox row.
func (r *SQLiteRepository) GetPatch(ctx context.Context, id string) (PendingPatch, error) {
	patches, err := queryPatches(ctx, r.db, `WHERE id = ?`, id)
	if err != nil {
		return PendingPatch{}, err
	}
	if len(patches) == 0 {
		return PendingPatch{}, fmt.Errorf("get patch %s: %w", id, ErrPatchNotFound)
	}
	return patches[0], nil
}

// PendingPatches returns up to limit forwardable patches, oldest first.
// Updates and deletes of an entry still waiting for its create are left out
// until the create re-keys them.
func (r *SQLiteRepository) PendingPatches(ctx context.Context, limit int) ([]PendingPatch, error) {
	return queryPatches(ctx, r.db,
		`WHERE status = ? AND (op = ? OR entry_id > 0) ORDER BY created_at, rowid LIMIT ?`,
		string(PatchPending), string(OpCreate), limit)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// parkDependents fails the pending updates and deletes of a local entry
// whose create will never hand back an upstream id.
func parkDependents(ctx context.Context, db execer, entryID int64, reason, now string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE pending_patches
		    SET status = ?, last_error = ?, updated_at = ?
		  WHERE entry_id = ? AND op != ? AND status = ?`,
		string(PatchFailed), reason, now, entryID, string(OpCreate), string(PatchPending))
	if err != nil {
		return 0, fmt.Errorf("park patches of entry %d: %w", entryID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkPatchSynced closes a patch. For a create, remoteID replaces the
// temporary local id of the mirrored entry; a remoteID of 0 parks the
// entry's pending updates and deletes since they have nothing to target.
func (r *SQLiteRepository) MarkPatchSynced(ctx context.Context, id string, remoteID int64) error {
	p, err := r.GetPatch(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := r.stamp()
	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_patches SET status = ?, remote_id = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		string(PatchSynced), remoteID, now, id); err != nil {
		return fmt.Errorf("mark patch synced: %w", err)
	}

	if p.Op == OpCreate && remoteID > 0 && p.EntryID < 0 {
		var payload string
		var deleted int
		err := tx.QueryRowContext(ctx, `SELECT payload, deleted FROM entries WHERE id = ?`, p.EntryID).Scan(&payload, &deleted)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load local entry: %w", err)
		default:
			merged, err := wire.ApplyPatch(json.RawMessage(payload), wire.Patch{"id": json.Number(fmt.Sprint(remoteID))})
			if err != nil {
				return fmt.Errorf("rewrite local entry: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, p.EntryID); err != nil {
				return fmt.Errorf("drop local entry: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO entries (id, payload, deleted, updated_at) VALUES (?, ?, ?, ?)`,
				remoteID, string(merged), deleted, now); err != nil {
				return fmt.Errorf("insert synced entry: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_patches SET entry_id = ? WHERE entry_id = ? AND status = ?`,
			remoteID, p.EntryID, string(PatchPending)); err != nil {
			return fmt.Errorf("rekey pending patches: %w", err)
		}
	}
	var parked int64
	if p.Op == OpCreate && remoteID <= 0 && p.EntryID < 0 {
		parked, err = parkDependents(ctx, tx, p.EntryID, errCreatedWithoutID.Error(), now)
		if err != nil {
			return err
		}
	}
	if p.Op == OpDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND deleted = 1`, p.EntryID); err != nil {
			return fmt.Errorf("purge deleted entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	if parked > 0 {
		r.logger.WarnContext(ctx, "Parked patches of entry created without an upstream id",
			log.FieldEntryID, p.EntryID,
			log.FieldCount, parked)
	}
	return nil
}

// MarkPatchFailed records a failed forward. After MaxAttempts the patch is
// parked as failed and no longer retried.
func (r *SQLiteRepository) MarkPatchFailed(ctx context.Context, id string, cause error) (PendingPatch, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_patches
		    SET attempts = attempts + 1,
		        last_error = ?,
		        status = CASE WHEN attempts + 1 >= ? THEN ? ELSE status END,
		        updated_at = ?
		  WHERE id = ? AND status = ?`,
		msg, MaxAttempts, string(PatchFailed), r.stamp(), id, string(PatchPending))
	if err != nil {
		return PendingPatch{}, fmt.Errorf("mark patch failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return PendingPatch{}, fmt.Errorf("mark patch failed %s: %w", id, ErrPatchNotFound)
	}
	p, err := r.GetPatch(ctx, id)
	if err != nil {
		return PendingPatch{}, err
	}
	if p.Status != PatchFailed {
		return p, nil
	}
	r.logger.WarnContext(ctx, "Patch parked after repeated failures",
		log.FieldPatchID, p.ID,
		log.FieldAttempts, p.Attempts,
		log.FieldError, p.LastError)
	if p.Op == OpCreate && p.EntryID < 0 {
		parked, err := parkDependents(ctx, r.db, p.EntryID, errCreateFailed.Error(), r.stamp())
		if err != nil {
			return p, err
		}
		if parked > 0 {
			r.logger.WarnContext(ctx, "Parked patches of entry whose create failed",
				log.FieldEntryID, p.EntryID,
				log.FieldCount, parked)
		}
	}
	return p, nil
}
