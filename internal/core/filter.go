package core

import "strings"

type (
	// Range is an inclusive {From, To} bound on an ISO date axis. An empty
	// side is unbounded.
	Range struct {
		From DateKey `json:"from,omitempty"`
		To   DateKey `json:"to,omitempty"`
	}

	// Criteria is a snapshot of the statement filters. Zero ids are
	// wildcards.
	Criteria struct {
		Term           string `json:"descricao,omitempty"`
		AccountID      int64  `json:"contaId,omitempty"`
		CounterpartyID int64  `json:"pessoaId,omitempty"`
		CostCenterID   int64  `json:"centroCustoId,omitempty"`
		Posting        Range  `json:"lancamento"`
		Due            Range  `json:"vencimento"`
		Settlement     Range  `json:"baixa"`
	}
)

// IsUnbounded reports whether neither side of the range is set.
func (r Range) IsUnbounded() bool {
	return r.From == "" && r.To == ""
}

// Contains reports whether d passes the range. Absent dates pass only an
// unbounded range. Comparison is lexicographic on the ISO key, which
// matches calendar order for zero-padded YYYY-MM-DD.
func (r Range) Contains(d DateKey) bool {
	if r.IsUnbounded() {
		return true
	}
	x := d.comparable()
	if x == "" {
		return false
	}
	if r.From != "" && x < string(r.From) {
		return false
	}
	if r.To != "" && x > string(r.To) {
		return false
	}
	return true
}

// Apply returns the entries that satisfy c, in collection order. The input
// slice is not modified.
func Apply(entries []Entry, c Criteria) []Entry {
	m := c.matcher()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if m.match(e) {
			out = append(out, e)
		}
	}
	return out
}

type matcher struct {
	term string
	c    Criteria
}

func (c Criteria) matcher() matcher {
	return matcher{term: strings.ToLower(strings.TrimSpace(c.Term)), c: c}
}

func (m matcher) match(e Entry) bool {
	if m.term != "" && !strings.Contains(strings.ToLower(e.Description), m.term) {
		return false
	}
	if m.c.AccountID != 0 && RefID(e.Account) != m.c.AccountID {
		return false
	}
	if m.c.CounterpartyID != 0 && RefID(e.Counterparty) != m.c.CounterpartyID {
		return false
	}
	if m.c.CostCenterID != 0 && RefID(e.CostCenter) != m.c.CostCenterID {
		return false
	}
	return m.c.Posting.Contains(e.PostingDate) &&
		m.c.Due.Contains(e.DueDate) &&
		m.c.Settlement.Contains(e.SettlementDate)
}
