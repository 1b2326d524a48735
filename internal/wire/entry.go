package wire

import (
	"fmt"

	"lancamentos/internal/core"
)

// FromWire converts a backend record into a canonical entry. It never fails:
// malformed dates become absent, bad amounts become 0, and unrecognized
// classification tokens are kept as cased labels and reported as
// diagnostics.
func FromWire(r Record) (core.Entry, []core.Diagnostic) {
	e := core.Entry{
		ID:             int64(r.ID),
		Description:    string(r.Description),
		Installment:    string(r.Installment),
		PostingDate:    core.WireToKey(string(r.PostingDate)),
		DueDate:        core.WireToKey(string(r.DueDate)),
		SettlementDate: core.WireToKey(string(r.SettlementDate)),
		DocumentValue:  r.DocumentValue.Decimal(),
		SettledValue:   r.SettledValue.Decimal(),
		Account:        accountRef(r.Account),
		Counterparty:   counterpartyRef(r.Counterparty),
		CostCenter:     costCenterRef(r.CostCenter),
	}

	var diags []core.Diagnostic
	p, err := core.ClassifyPolarity(string(r.Polarity))
	e.Polarity = p
	if d, ok := core.DiagnosticFrom(e.ID, err); ok {
		diags = append(diags, d)
	}
	s, err := core.ClassifyStatus(string(r.Status))
	e.Status = s
	if d, ok := core.DiagnosticFrom(e.ID, err); ok {
		diags = append(diags, d)
	}
	return e, diags
}

// Decode converts a batch of records, preserving order.
func Decode(records []Record) ([]core.Entry, []core.Diagnostic) {
	entries := make([]core.Entry, 0, len(records))
	var diags []core.Diagnostic
	for _, r := range records {
		e, d := FromWire(r)
		entries = append(entries, e)
		diags = append(diags, d...)
	}
	return entries, diags
}

func accountRef(r *RefRecord) *core.Ref {
	if r == nil || r.ID == 0 {
		return nil
	}
	return &core.Ref{ID: int64(r.ID), Label: firstNonEmpty(r.Description, r.Name, r.CompanyName)}
}

func counterpartyRef(r *RefRecord) *core.Ref {
	if r == nil || r.ID == 0 {
		return nil
	}
	return &core.Ref{ID: int64(r.ID), Label: firstNonEmpty(r.Name, r.CompanyName)}
}

func costCenterRef(r *RefRecord) *core.Ref {
	if r == nil || r.ID == 0 {
		return nil
	}
	return &core.Ref{ID: int64(r.ID), Label: firstNonEmpty(r.Description, r.Name)}
}

// LookupKind names one of the three lookup lists.
type LookupKind string

const (
	Accounts       LookupKind = "contas"
	Counterparties LookupKind = "pessoas"
	CostCenters    LookupKind = "centroCustos"
)

// LookupKinds lists every kind in display order.
var LookupKinds = []LookupKind{Accounts, Counterparties, CostCenters}

// Option converts a lookup record to a selection option. Each kind has its
// own label fallback chain, ending in "#<id>".
func (k LookupKind) Option(r RefRecord) core.Option {
	var label string
	switch k {
	case Accounts:
		label = firstNonEmpty(r.Description, r.Name, r.CompanyName)
	case Counterparties:
		label = firstNonEmpty(r.Name, r.CompanyName, r.Description)
	default:
		label = firstNonEmpty(r.Description, r.Name)
	}
	if label == "" {
		label = fmt.Sprintf("#%d", r.ID)
	}
	return core.Option{ID: int64(r.ID), Label: label}
}

// Options converts a lookup list, preserving order.
func (k LookupKind) Options(records []RefRecord) []core.Option {
	out := make([]core.Option, 0, len(records))
	for _, r := range records {
		out = append(out, k.Option(r))
	}
	return out
}

// Lookups groups the three option lists.
type Lookups struct {
	Accounts       []core.Option `json:"contas"`
	Counterparties []core.Option `json:"pessoas"`
	CostCenters    []core.Option `json:"centrosCusto"`
}

// Get returns the list for kind k.
func (l Lookups) Get(k LookupKind) []core.Option {
	switch k {
	case Accounts:
		return l.Accounts
	case Counterparties:
		return l.Counterparties
	case CostCenters:
		return l.CostCenters
	}
	return nil
}

// Set replaces the list for kind k.
func (l *Lookups) Set(k LookupKind, opts []core.Option) {
	switch k {
	case Accounts:
		l.Accounts = opts
	case Counterparties:
		l.Counterparties = opts
	case CostCenters:
		l.CostCenters = opts
	}
}
