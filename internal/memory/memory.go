// Package memory is an in-process ledger backend, used for local
// development and tests. Records are kept as raw JSON so patches merge the
// same way they do upstream.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"lancamentos/internal/ports"
	"lancamentos/internal/wire"
)

// Seed is the JSON document accepted by NewFromFile.
type Seed struct {
	Entries        []json.RawMessage `json:"lancamentos"`
	Accounts       []wire.RefRecord  `json:"contas"`
	Counterparties []wire.RefRecord  `json:"pessoas"`
	CostCenters    []wire.RefRecord  `json:"centroCustos"`
}

type Store struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]json.RawMessage
	lookups map[wire.LookupKind][]wire.RefRecord
}

func New(seed Seed) (*Store, error) {
	s := &Store{
		nextID:  1,
		entries: make(map[int64]json.RawMessage, len(seed.Entries)),
		lookups: map[wire.LookupKind][]wire.RefRecord{
			wire.Accounts:       append([]wire.RefRecord(nil), seed.Accounts...),
			wire.Counterparties: append([]wire.RefRecord(nil), seed.Counterparties...),
			wire.CostCenters:    append([]wire.RefRecord(nil), seed.CostCenters...),
		},
	}
	for i, raw := range seed.Entries {
		var head struct {
			ID wire.ID `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("decode seed entry %d: %w", i, err)
		}
		id := int64(head.ID)
		if id <= 0 {
			return nil, fmt.Errorf("seed entry %d: missing id", i)
		}
		s.entries[id] = append(json.RawMessage(nil), raw...)
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return s, nil
}

// NewFromFile loads a Seed document. An empty path gives an empty store.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(Seed{})
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return New(seed)
}

func (s *Store) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ListEntries returns every entry in id order.
func (s *Store) ListEntries(_ context.Context) ([]wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Record, 0, len(s.entries))
	for _, id := range s.sortedIDs() {
		var rec wire.Record
		if err := json.Unmarshal(s.entries[id], &rec); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id int64) (wire.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[id]
	if !ok {
		return wire.Record{}, fmt.Errorf("get entry %d: %w", id, ports.ErrNotFound)
	}
	var rec wire.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return wire.Record{}, fmt.Errorf("decode entry %d: %w", id, err)
	}
	return rec, nil
}

func (s *Store) ListLookups(_ context.Context, kind wire.LookupKind) ([]wire.RefRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lookups[kind]
	if !ok {
		return nil, fmt.Errorf("list lookups: unknown kind %q", kind)
	}
	return append([]wire.RefRecord(nil), list...), nil
}

func (s *Store) CreateEntry(_ context.Context, patch wire.Patch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	raw, err := wire.NewRecord(id, patch)
	if err != nil {
		return 0, fmt.Errorf("create entry: %w", err)
	}
	s.entries[id] = raw
	s.nextID++
	return id, nil
}

func (s *Store) UpdateEntry(_ context.Context, id int64, patch wire.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("update entry %d: %w", id, ports.ErrNotFound)
	}
	merged, err := wire.ApplyPatch(raw, patch)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	// the id is not patchable
	merged, err = wire.ApplyPatch(merged, wire.Patch{"id": json.Number(fmt.Sprint(id))})
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
	}
	s.entries[id] = merged
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("delete entry %d: %w", id, ports.ErrNotFound)
	}
	delete(s.entries, id)
	return nil
}

// Ping implements ports.HealthChecker
func (s *Store) Ping(context.Context) error { return nil }
