package core

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MonthOverview is the document-value movement of one calendar month.
type MonthOverview struct {
	Year    int             `json:"ano"`
	Month   int             `json:"mes"` // 1-12
	Credits decimal.Decimal `json:"entradas"`
	Debits  decimal.Decimal `json:"saidas"`
	Net     decimal.Decimal `json:"total"`
}

// Indicators are the dashboard statistics over an unfiltered collection.
type Indicators struct {
	TotalEntries     int             `json:"totalLancamentos"`
	TotalCredits     decimal.Decimal `json:"totalEntradas"`
	TotalDebits      decimal.Decimal `json:"totalSaidas"`
	CurrentBalance   decimal.Decimal `json:"saldoAtual"`
	MostRecent       *Entry          `json:"ultimoLancamento,omitempty"`
	CurrentMonth     MonthOverview   `json:"mesAtual"`
	PreviousMonth    MonthOverview   `json:"mesAnterior"`
	PercentVariation decimal.Decimal `json:"variacaoPercentual"`
	// EntriesPerMonth counts entries with a valid posting date by calendar
	// month (index 0 = January), across all years.
	EntriesPerMonth [12]int `json:"lancamentosPorMes"`
}

// ComputeIndicators derives the dashboard statistics from the whole
// collection relative to now.
func ComputeIndicators(entries []Entry, now time.Time) Indicators {
	totals := Aggregate(entries, DocumentAxis)
	ind := Indicators{
		TotalEntries:   len(entries),
		TotalCredits:   totals.Credit,
		TotalDebits:    totals.Debit,
		CurrentBalance: totals.Balance,
		MostRecent:     MostRecent(entries),
	}

	year, month := now.Year(), int(now.Month())
	prevYear, prevMonth := PreviousMonth(year, month)
	ind.CurrentMonth = MonthTotals(entries, year, month)
	ind.PreviousMonth = MonthTotals(entries, prevYear, prevMonth)
	ind.PercentVariation = PercentVariation(ind.CurrentMonth.Net, ind.PreviousMonth.Net)

	for _, e := range entries {
		// only real calendar days count, so 2024-02-31 is skipped
		if DateKey(e.PostingDate.comparable()).Valid() != nil {
			continue
		}
		if _, m, ok := e.PostingDate.YearMonth(); ok {
			ind.EntriesPerMonth[m-1]++
		}
	}
	return ind
}

// MostRecent returns a copy of the entry with the greatest posting date.
// The first such entry wins a tie. Entries without a posting date are
// skipped; nil is returned when none has one.
func MostRecent(entries []Entry) *Entry {
	best := -1
	for i, e := range entries {
		if e.PostingDate.IsZero() {
			continue
		}
		if best == -1 || e.PostingDate.comparable() > entries[best].PostingDate.comparable() {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	e := entries[best]
	return &e
}

// MonthTotals sums the document value of entries posted in year/month.
func MonthTotals(entries []Entry, year, month int) MonthOverview {
	ov := MonthOverview{Year: year, Month: month, Credits: decimal.Zero, Debits: decimal.Zero}
	for _, e := range entries {
		y, m, ok := e.PostingDate.YearMonth()
		if !ok || y != year || m != month {
			continue
		}
		switch e.Polarity {
		case Credit:
			ov.Credits = ov.Credits.Add(e.DocumentValue)
		case Debit:
			ov.Debits = ov.Debits.Add(e.DocumentValue)
		}
	}
	ov.Net = ov.Credits.Sub(ov.Debits)
	return ov
}

// PreviousMonth returns the calendar month before year/month.
func PreviousMonth(year, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}

// PercentVariation is (current - previous) / previous * 100, defined as 0
// when previous is 0.
func PercentVariation(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}
