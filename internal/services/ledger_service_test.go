package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"lancamentos/internal/core"
	"lancamentos/internal/memory"
	"lancamentos/internal/ports"
	"lancamentos/internal/wire"

	"github.com/shopspring/decimal"
)

func newService(t *testing.T) (*LedgerService, *memory.Store) {
	t.Helper()
	store, err := memory.New(memory.Seed{
		Entries: []json.RawMessage{
			json.RawMessage(`{"id": 1, "descricao": "Venda", "dataLancamento": "10/01/2024", "valorDocumento": "100.00", "valorBaixado": "100.00", "tipoLancamento": "Credito", "situacao": "Baixado", "conta": {"id": 7, "descricao": "Caixa"}}`),
			json.RawMessage(`{"id": 2, "descricao": "Aluguel", "dataLancamento": "12/01/2024", "valorDocumento": "40.00", "valorBaixado": "0", "tipoLancamento": "Debito", "situacao": "Aberto"}`),
			json.RawMessage(`{"id": 3, "descricao": "Estorno", "dataLancamento": "05/12/2023", "valorDocumento": "10", "tipoLancamento": "Transferencia"}`),
		},
		Accounts:       []wire.RefRecord{{ID: 7, Description: "Caixa"}},
		Counterparties: []wire.RefRecord{{ID: 3, CompanyName: "ACME"}},
		CostCenters:    []wire.RefRecord{{ID: 9}},
	})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	s := NewLedgerService(store, nil)
	s.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return s, store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerService_Statement(t *testing.T) {
	s, _ := newService(t)

	view, err := s.Statement(context.Background(), core.Criteria{})
	if err != nil {
		t.Fatalf("Statement: %v", err)
	}
	if len(view.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(view.Entries))
	}
	if !view.Document.Credit.Equal(dec("100")) || !view.Document.Debit.Equal(dec("40")) || !view.Document.Balance.Equal(dec("60")) {
		t.Errorf("unexpected document totals: %+v", view.Document)
	}
	if !view.Settled.Balance.Equal(dec("100")) {
		t.Errorf("unexpected settled balance: %s", view.Settled.Balance)
	}
	if len(view.Diagnostics) != 1 || view.Diagnostics[0].EntryID != 3 || view.Diagnostics[0].Field != "tipoLancamento" {
		t.Errorf("expected one polarity diagnostic for entry 3, got %+v", view.Diagnostics)
	}

	view, _ = s.Statement(context.Background(), core.Criteria{AccountID: 7})
	if len(view.Entries) != 1 || view.Entries[0].ID != 1 {
		t.Errorf("account filter: got %+v", view.Entries)
	}
}

func TestLedgerService_Dashboard(t *testing.T) {
	s, _ := newService(t)

	view, err := s.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if view.TotalEntries != 3 {
		t.Errorf("expected 3 entries, got %d", view.TotalEntries)
	}
	if !view.CurrentMonth.Net.Equal(dec("60")) {
		t.Errorf("expected current month net 60, got %s", view.CurrentMonth.Net)
	}
	if view.MostRecent == nil || view.MostRecent.ID != 2 {
		t.Errorf("expected entry 2 as most recent, got %+v", view.MostRecent)
	}
	if view.EntriesPerMonth[0] != 2 || view.EntriesPerMonth[11] != 1 {
		t.Errorf("unexpected per-month counts: %v", view.EntriesPerMonth)
	}
}

func TestLedgerService_Lookups(t *testing.T) {
	s, _ := newService(t)

	l, err := s.Lookups(context.Background())
	if err != nil {
		t.Fatalf("Lookups: %v", err)
	}
	if len(l.Accounts) != 1 || l.Accounts[0].Label != "Caixa" {
		t.Errorf("unexpected accounts: %+v", l.Accounts)
	}
	if len(l.Counterparties) != 1 || l.Counterparties[0].Label != "ACME" {
		t.Errorf("unexpected counterparties: %+v", l.Counterparties)
	}
	if len(l.CostCenters) != 1 || l.CostCenters[0].Label != "#9" {
		t.Errorf("unexpected cost centers: %+v", l.CostCenters)
	}
}

func TestLedgerService_CreateAndUpdate(t *testing.T) {
	s, store := newService(t)
	ctx := context.Background()

	id, err := s.CreateEntry(ctx, wire.PatchInput{
		Description:   wire.Set("Novo"),
		PostingDate:   wire.Set("2024-02-01"),
		DocumentValue: wire.Set(dec("12.5")),
		Polarity:      wire.Set("debito"),
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if id != 4 {
		t.Errorf("expected id 4, got %d", id)
	}

	e, err := s.Entry(ctx, id)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.PostingDate != "2024-02-01" || e.Polarity != core.Debit || !e.DocumentValue.Equal(dec("12.5")) {
		t.Errorf("unexpected created entry: %+v", e)
	}

	if err := s.UpdateEntry(ctx, id, wire.PatchInput{Installment: wire.Set("1/3")}); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	rec, _ := store.GetEntry(ctx, id)
	if rec.Installment != "1/3" || rec.Description != "Novo" {
		t.Errorf("update should touch only parcela, got %+v", rec)
	}
}

func TestLedgerService_WriteErrors(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty patch", func() error { return s.UpdateEntry(ctx, 1, wire.PatchInput{}) }, wire.ErrEmptyPatch},
		{"bad date", func() error {
			_, err := s.CreateEntry(ctx, wire.PatchInput{PostingDate: wire.Set("2024-02-30")})
			return err
		}, ErrInvalidInput},
		{"unknown token", func() error {
			return s.UpdateEntry(ctx, 1, wire.PatchInput{Status: wire.Set("pendente")})
		}, ErrInvalidInput},
		{"missing id", func() error { return s.DeleteEntry(ctx, 0) }, ErrInvalidInput},
		{"unknown entry", func() error { return s.DeleteEntry(ctx, 99) }, ports.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLedgerService_Delete(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	if err := s.DeleteEntry(ctx, 2); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := s.Entry(ctx, 2); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
