package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lancamentos/internal/amqp"
	"lancamentos/internal/memory"
	"lancamentos/internal/storage"
	"lancamentos/internal/wire"
)

func newFixture(t *testing.T, seed memory.Seed) (*SyncWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "mirror.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	upstream, err := memory.New(seed)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	return NewSyncWorker(repo, upstream, nil, 10), repo, upstream
}

func message(p storage.PendingPatch) *amqp.PatchMessage {
	return amqp.NewPatchMessage(p.ID, p.EntryID, amqp.PatchOp(p.Op))
}

func seedOne() memory.Seed {
	return memory.Seed{
		Entries:  []json.RawMessage{json.RawMessage(`{"id": 10, "descricao": "Aluguel", "valorDocumento": "100.00", "tipoLancamento": "Debito"}`)},
		Accounts: []wire.RefRecord{{ID: 1, Description: "Caixa"}},
	}
}

func TestHandlePatchMessage_Create(t *testing.T) {
	w, repo, upstream := newFixture(t, memory.Seed{})
	ctx := context.Background()

	p, err := repo.EnqueuePatch(ctx, storage.OpCreate, 0, wire.Patch{"descricao": "Venda"})
	if err != nil {
		t.Fatalf("EnqueuePatch: %v", err)
	}
	if err := w.HandlePatchMessage(ctx, message(p)); err != nil {
		t.Fatalf("HandlePatchMessage: %v", err)
	}

	rec, err := upstream.GetEntry(ctx, 1)
	if err != nil || rec.Description != "Venda" {
		t.Fatalf("upstream entry missing: %+v (err %v)", rec, err)
	}
	if _, err := repo.GetEntry(ctx, 1); err != nil {
		t.Errorf("mirror not re-keyed to upstream id: %v", err)
	}
	got, _ := repo.GetPatch(ctx, p.ID)
	if got.Status != storage.PatchSynced {
		t.Errorf("expected synced, got %s", got.Status)
	}

	// redelivery is a no-op
	if err := w.HandlePatchMessage(ctx, message(p)); err != nil {
		t.Errorf("redelivery should be ignored, got %v", err)
	}
	list, _ := upstream.ListEntries(ctx)
	if len(list) != 1 {
		t.Errorf("redelivery created a duplicate: %d entries", len(list))
	}
}

func TestHandlePatchMessage_UnknownPatch(t *testing.T) {
	w, _, _ := newFixture(t, memory.Seed{})
	msg := amqp.NewPatchMessage("missing", 1, amqp.OpUpdate)
	if err := w.HandlePatchMessage(context.Background(), msg); err != nil {
		t.Errorf("expected unknown patch to be dropped, got %v", err)
	}
}

func TestHandlePatchMessage_UpdateWaitsForCreate(t *testing.T) {
	w, repo, upstream := newFixture(t, memory.Seed{})
	ctx := context.Background()

	create, _ := repo.EnqueuePatch(ctx, storage.OpCreate, 0, wire.Patch{"descricao": "Rascunho"})
	update, err := repo.EnqueuePatch(ctx, storage.OpUpdate, create.EntryID, wire.Patch{"descricao": "Final"})
	if err != nil {
		t.Fatalf("EnqueuePatch: %v", err)
	}

	if err := w.HandlePatchMessage(ctx, message(update)); err != nil {
		t.Fatalf("HandlePatchMessage: %v", err)
	}
	got, _ := repo.GetPatch(ctx, update.ID)
	if got.Status != storage.PatchPending || got.Attempts != 0 {
		t.Fatalf("update should wait untouched, got %s/%d", got.Status, got.Attempts)
	}

	n, err := w.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the create to sync first, got %d", n)
	}
	n, _ = w.ProcessPending(ctx)
	if n != 1 {
		t.Fatalf("expected the re-keyed update to sync, got %d", n)
	}

	rec, err := upstream.GetEntry(ctx, 1)
	if err != nil || rec.Description != "Final" {
		t.Errorf("expected upstream description Final, got %+v (err %v)", rec, err)
	}
}

// idlessUpstream answers creates without echoing the new id. When record is
// false the create is not listed upstream either, so the id cannot be found.
type idlessUpstream struct {
	*memory.Store
	record bool
}

func (u idlessUpstream) CreateEntry(ctx context.Context, patch wire.Patch) (int64, error) {
	if u.record {
		if _, err := u.Store.CreateEntry(ctx, patch); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func newIdlessFixture(t *testing.T, record bool) (*SyncWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	_, repo, store := newFixture(t, seedOne())
	w := NewSyncWorker(repo, idlessUpstream{Store: store, record: record}, nil, 3)
	if err := w.RefreshMirror(context.Background()); err != nil {
		t.Fatalf("RefreshMirror: %v", err)
	}
	return w, repo, store
}

// enqueueCreateWithEdits queues a create, three edits of it, then an edit
// of the existing entry 10.
func enqueueCreateWithEdits(t *testing.T, repo *storage.SQLiteRepository) (storage.PendingPatch, []storage.PendingPatch, storage.PendingPatch) {
	t.Helper()
	ctx := context.Background()
	create, err := repo.EnqueuePatch(ctx, storage.OpCreate, 0, wire.Patch{"descricao": "Venda"})
	if err != nil {
		t.Fatalf("EnqueuePatch create: %v", err)
	}
	var edits []storage.PendingPatch
	for _, installment := range []string{"1/3", "2/3", "3/3"} {
		p, err := repo.EnqueuePatch(ctx, storage.OpUpdate, create.EntryID, wire.Patch{"parcela": installment})
		if err != nil {
			t.Fatalf("EnqueuePatch update: %v", err)
		}
		edits = append(edits, p)
	}
	later, err := repo.EnqueuePatch(ctx, storage.OpUpdate, 10, wire.Patch{"descricao": "Aluguel março"})
	if err != nil {
		t.Fatalf("EnqueuePatch later: %v", err)
	}
	return create, edits, later
}

func drain(t *testing.T, w *SyncWorker, rounds int) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		if _, err := w.ProcessPending(context.Background()); err != nil {
			t.Fatalf("ProcessPending round %d: %v", i+1, err)
		}
	}
}

func TestProcessPending_CreateWithoutEchoedIDRecoversIt(t *testing.T) {
	w, repo, upstream := newIdlessFixture(t, true)
	ctx := context.Background()
	create, edits, later := enqueueCreateWithEdits(t, repo)

	drain(t, w, 5)

	for _, p := range append([]storage.PendingPatch{create, later}, edits...) {
		got, _ := repo.GetPatch(ctx, p.ID)
		if got.Status != storage.PatchSynced {
			t.Errorf("patch %s (%s) status %s, want synced", p.ID, p.Op, got.Status)
		}
	}
	rec, err := upstream.GetEntry(ctx, 10)
	if err != nil || rec.Description != "Aluguel março" {
		t.Errorf("later edit did not reach upstream: %+v (err %v)", rec, err)
	}
	created, err := upstream.GetEntry(ctx, 11)
	if err != nil || created.Description != "Venda" || created.Installment != "3/3" {
		t.Errorf("edits of the created entry did not reach upstream: %+v (err %v)", created, err)
	}
	if _, err := repo.GetEntry(ctx, 11); err != nil {
		t.Errorf("mirror not re-keyed to recovered id: %v", err)
	}
}

func TestProcessPending_UnrecoverableCreateParksItsEdits(t *testing.T) {
	w, repo, upstream := newIdlessFixture(t, false)
	ctx := context.Background()
	create, edits, later := enqueueCreateWithEdits(t, repo)

	drain(t, w, 5)

	got, _ := repo.GetPatch(ctx, later.ID)
	if got.Status != storage.PatchSynced {
		t.Fatalf("later patch starved: status %s", got.Status)
	}
	rec, _ := upstream.GetEntry(ctx, 10)
	if rec.Description != "Aluguel março" {
		t.Errorf("expected upstream description to change, got %q", rec.Description)
	}
	for _, p := range edits {
		got, _ := repo.GetPatch(ctx, p.ID)
		if got.Status != storage.PatchFailed || got.LastError == "" {
			t.Errorf("edit %s should be parked with a reason, got %s %q", p.ID, got.Status, got.LastError)
		}
	}

	if _, err := repo.EnqueuePatch(ctx, storage.OpUpdate, create.EntryID, wire.Patch{"parcela": "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("edit of an orphaned local entry should be refused, got %v", err)
	}

	// the refreshed mirror must not hand the old temporary id out again
	if err := w.RefreshMirror(ctx); err != nil {
		t.Fatalf("RefreshMirror: %v", err)
	}
	next, err := repo.EnqueuePatch(ctx, storage.OpCreate, 0, wire.Patch{"descricao": "Outra"})
	if err != nil {
		t.Fatalf("EnqueuePatch: %v", err)
	}
	if next.EntryID == create.EntryID {
		t.Errorf("temporary id %d reused", next.EntryID)
	}
}

func TestHandlePatchMessage_FailureIsRetried(t *testing.T) {
	w, repo, _ := newFixture(t, memory.Seed{})
	ctx := context.Background()

	// mirrored locally but unknown upstream
	if err := repo.ReplaceEntries(ctx, []wire.Record{{ID: 77, Description: "Fantasma"}}); err != nil {
		t.Fatalf("ReplaceEntries: %v", err)
	}
	p, err := repo.EnqueuePatch(ctx, storage.OpUpdate, 77, wire.Patch{"descricao": "x"})
	if err != nil {
		t.Fatalf("EnqueuePatch: %v", err)
	}

	for i := 1; i < storage.MaxAttempts; i++ {
		if err := w.HandlePatchMessage(ctx, message(p)); err == nil {
			t.Fatalf("attempt %d: expected error for redelivery", i)
		}
	}
	if err := w.HandlePatchMessage(ctx, message(p)); err != nil {
		t.Errorf("last attempt should park the patch, got %v", err)
	}
	got, _ := repo.GetPatch(ctx, p.ID)
	if got.Status != storage.PatchFailed || got.Attempts != storage.MaxAttempts {
		t.Errorf("expected failed after %d attempts, got %s/%d", storage.MaxAttempts, got.Status, got.Attempts)
	}
}

func TestHandlePatchMessage_DeleteMissingUpstream(t *testing.T) {
	w, repo, _ := newFixture(t, memory.Seed{})
	ctx := context.Background()

	repo.ReplaceEntries(ctx, []wire.Record{{ID: 5}})
	p, err := repo.EnqueuePatch(ctx, storage.OpDelete, 5, nil)
	if err != nil {
		t.Fatalf("EnqueuePatch: %v", err)
	}
	if err := w.HandlePatchMessage(ctx, message(p)); err != nil {
		t.Fatalf("HandlePatchMessage: %v", err)
	}
	got, _ := repo.GetPatch(ctx, p.ID)
	if got.Status != storage.PatchSynced {
		t.Errorf("expected synced, got %s", got.Status)
	}
}

func TestRefreshMirror(t *testing.T) {
	w, repo, _ := newFixture(t, seedOne())
	ctx := context.Background()

	if err := w.RefreshMirror(ctx); err != nil {
		t.Fatalf("RefreshMirror: %v", err)
	}
	list, _ := repo.ListEntries(ctx)
	if len(list) != 1 || list[0].ID != 10 {
		t.Errorf("unexpected mirrored entries: %+v", list)
	}
	accounts, _ := repo.ListLookups(ctx, wire.Accounts)
	if len(accounts) != 1 || accounts[0].Description != "Caixa" {
		t.Errorf("unexpected mirrored accounts: %+v", accounts)
	}
}

func TestProcessor_Lifecycle(t *testing.T) {
	w, _, _ := newFixture(t, seedOne())
	p := NewProcessor(w, ProcessorConfig{PollInterval: 10 * time.Millisecond, RefreshInterval: time.Hour}, nil)

	if p.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("expected error when starting twice")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Error("processor should not be running after Stop")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("Stop when not running should not error: %v", err)
	}
}

func TestNewProcessor_Defaults(t *testing.T) {
	p := NewProcessor(nil, ProcessorConfig{}, nil)
	want := DefaultProcessorConfig()
	if p.config != want {
		t.Errorf("expected defaults %+v, got %+v", want, p.config)
	}
}

var errBoom = errors.New("boom")

type failingOutbox struct{ Outbox }

func (failingOutbox) PendingPatches(context.Context, int) ([]storage.PendingPatch, error) {
	return nil, errBoom
}

func TestProcessPending_StorageError(t *testing.T) {
	w := NewSyncWorker(failingOutbox{}, nil, nil, 0)
	if _, err := w.ProcessPending(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("expected wrapped storage error, got %v", err)
	}
}
