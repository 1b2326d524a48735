package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	Credit Polarity = "Credito"
	Debit  Polarity = "Debito"

	Open    Status = "Aberto"
	Settled Status = "Baixado"
)

type (
	// Polarity is the direction of an entry. Canonical values are Credit and
	// Debit; anything else is a best-effort label for an unrecognized token.
	Polarity string

	// Status is the settlement state of an entry.
	Status string

	// DateKey is an ISO calendar-date key (YYYY-MM-DD). The empty key means
	// the date is absent.
	DateKey string

	// Ref is a weak, lookup-only reference to an account, counterparty or
	// cost center.
	Ref struct {
		ID    int64  `json:"id"`
		Label string `json:"descricao,omitempty"`
	}

	// Entry is the canonical ledger entry (lançamento).
	Entry struct {
		ID             int64           `json:"id"`
		Description    string          `json:"descricao"`
		Installment    string          `json:"parcela"`
		PostingDate    DateKey         `json:"dataLancamentoISO"`
		DueDate        DateKey         `json:"dataVencimentoISO"`
		SettlementDate DateKey         `json:"dataBaixaISO"`
		DocumentValue  decimal.Decimal `json:"valorDocumento"`
		SettledValue   decimal.Decimal `json:"valorBaixado"`
		Polarity       Polarity        `json:"tipoLancamento"`
		Status         Status          `json:"situacao"`
		Account        *Ref            `json:"conta,omitempty"`
		Counterparty   *Ref            `json:"pessoa,omitempty"`
		CostCenter     *Ref            `json:"centroCusto,omitempty"`
	}

	// Option is one item of a lookup list (accounts, counterparties, cost
	// centers) as shown in selection controls.
	Option struct {
		ID    int64  `json:"id"`
		Label string `json:"label"`
	}
)

var (
	ErrInvalidDate = errors.New("invalid date")
)

// IsCanonical reports whether p is Credit or Debit.
func (p Polarity) IsCanonical() bool {
	return p == Credit || p == Debit
}

// IsCanonical reports whether s is Open or Settled.
func (s Status) IsCanonical() bool {
	return s == Open || s == Settled
}

// IsSettled reports whether the entry carries a settlement date.
func (e Entry) IsSettled() bool {
	return !e.SettlementDate.IsZero()
}

// Value returns the entry value on the given axis.
func (e Entry) Value(axis Axis) decimal.Decimal {
	if axis == SettledAxis {
		return e.SettledValue
	}
	return e.DocumentValue
}

// RefID returns the id of r, or 0 when r is nil.
func RefID(r *Ref) int64 {
	if r == nil {
		return 0
	}
	return r.ID
}
