package core

import "github.com/shopspring/decimal"

// Axis selects which value of an entry is aggregated.
type Axis int

const (
	DocumentAxis Axis = iota
	SettledAxis
)

// String implements fmt.Stringer
func (a Axis) String() string {
	if a == SettledAxis {
		return "settled"
	}
	return "document"
}

// Totals are the directional sums of one value axis.
type Totals struct {
	Credit  decimal.Decimal `json:"credito"`
	Debit   decimal.Decimal `json:"debito"`
	Balance decimal.Decimal `json:"saldo"`
}

// Statement is a filtered view with totals on both axes. The two axes are
// never combined.
type Statement struct {
	Criteria Criteria `json:"filtros"`
	Entries  []Entry  `json:"lancamentos"`
	Document Totals   `json:"documento"`
	Settled  Totals   `json:"baixado"`
}

// Aggregate sums the selected axis by polarity. Entries whose polarity is
// not canonical fall in neither bucket.
func Aggregate(entries []Entry, axis Axis) Totals {
	credit, debit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Polarity {
		case Credit:
			credit = credit.Add(e.Value(axis))
		case Debit:
			debit = debit.Add(e.Value(axis))
		}
	}
	return Totals{Credit: credit, Debit: debit, Balance: credit.Sub(debit)}
}

// BuildStatement filters entries with c and aggregates both axes over the
// result.
func BuildStatement(entries []Entry, c Criteria) Statement {
	filtered := Apply(entries, c)
	return Statement{
		Criteria: c,
		Entries:  filtered,
		Document: Aggregate(filtered, DocumentAxis),
		Settled:  Aggregate(filtered, SettledAxis),
	}
}
