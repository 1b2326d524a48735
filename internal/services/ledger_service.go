// Package services orchestrates ledger reads and writes over whichever
// backend was selected.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lancamentos/internal/core"
	"lancamentos/internal/log"
	"lancamentos/internal/ports"
	"lancamentos/internal/rest"
	"lancamentos/internal/wire"
)

// ErrInvalidInput marks a write rejected before reaching the backend.
var ErrInvalidInput = errors.New("invalid input")

// StatementView is a statement plus the classification diagnostics met
// while decoding.
type StatementView struct {
	core.Statement
	Diagnostics []core.Diagnostic `json:"diagnosticos"`
}

// DashboardView is the indicators plus decoding diagnostics.
type DashboardView struct {
	core.Indicators
	Diagnostics []core.Diagnostic `json:"diagnosticos"`
}

// LedgerService reads fresh records on every call and decodes them through
// the entry adapter.
type LedgerService struct {
	ledger ports.Ledger
	logger *log.Logger
	sl     *log.StructuredLogger
	now    func() time.Time
}

func NewLedgerService(ledger ports.Ledger, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentLedger)
	return &LedgerService{
		ledger: ledger,
		logger: logger,
		sl:     log.NewStructuredLogger(logger),
		now:    time.Now,
	}
}

// Entries fetches and decodes every entry.
func (s *LedgerService) Entries(ctx context.Context) ([]core.Entry, []core.Diagnostic, error) {
	records, err := s.ledger.ListEntries(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list entries: %w", err)
	}
	entries, diags := wire.Decode(records)
	s.sl.LogDiagnostics(ctx, diags)
	return entries, diags, nil
}

// Entry fetches and decodes one entry.
func (s *LedgerService) Entry(ctx context.Context, id int64) (core.Entry, error) {
	rec, err := s.ledger.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	e, diags := wire.FromWire(rec)
	s.sl.LogDiagnostics(ctx, diags)
	return e, nil
}

// Statement filters the collection with c and totals both value axes.
func (s *LedgerService) Statement(ctx context.Context, c core.Criteria) (StatementView, error) {
	entries, diags, err := s.Entries(ctx)
	if err != nil {
		return StatementView{}, err
	}
	return StatementView{Statement: core.BuildStatement(entries, c), Diagnostics: nonNil(diags)}, nil
}

// Dashboard computes the indicators over the unfiltered collection.
func (s *LedgerService) Dashboard(ctx context.Context) (DashboardView, error) {
	entries, diags, err := s.Entries(ctx)
	if err != nil {
		return DashboardView{}, err
	}
	return DashboardView{Indicators: core.ComputeIndicators(entries, s.now()), Diagnostics: nonNil(diags)}, nil
}

// Lookups returns the three selection lists, fetched concurrently.
func (s *LedgerService) Lookups(ctx context.Context) (wire.Lookups, error) {
	raw, err := rest.FetchAllLookups(ctx, s.ledger)
	if err != nil {
		return wire.Lookups{}, fmt.Errorf("fetch lookups: %w", err)
	}
	var out wire.Lookups
	for _, kind := range wire.LookupKinds {
		out.Set(kind, kind.Options(raw[kind]))
	}
	return out, nil
}

// CreateEntry validates in and creates the entry, returning its id.
func (s *LedgerService) CreateEntry(ctx context.Context, in wire.PatchInput) (int64, error) {
	patch, err := s.patch(in)
	if err != nil {
		return 0, err
	}
	id, err := s.ledger.CreateEntry(ctx, patch)
	if err != nil {
		return 0, fmt.Errorf("create entry: %w", err)
	}
	s.sl.LogEntryWritten(ctx, log.OpCreate, id, patch.Keys())
	return id, nil
}

// UpdateEntry sends only the fields present in in.
func (s *LedgerService) UpdateEntry(ctx context.Context, id int64, in wire.PatchInput) error {
	if id == 0 {
		return fmt.Errorf("%w: missing entry id", ErrInvalidInput)
	}
	patch, err := s.patch(in)
	if err != nil {
		return err
	}
	if err := s.ledger.UpdateEntry(ctx, id, patch); err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	s.sl.LogEntryWritten(ctx, log.OpUpdate, id, patch.Keys())
	return nil
}

func (s *LedgerService) DeleteEntry(ctx context.Context, id int64) error {
	if id == 0 {
		return fmt.Errorf("%w: missing entry id", ErrInvalidInput)
	}
	if err := s.ledger.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	s.sl.LogEntryWritten(ctx, log.OpDelete, id, nil)
	return nil
}

func (s *LedgerService) patch(in wire.PatchInput) (wire.Patch, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	patch := wire.ToWire(in)
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, wire.ErrEmptyPatch)
	}
	return patch, nil
}

func nonNil(d []core.Diagnostic) []core.Diagnostic {
	if d == nil {
		return []core.Diagnostic{}
	}
	return d
}
