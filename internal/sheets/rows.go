// Package sheets lays statements out as spreadsheet rows.
package sheets

import (
	"strconv"
	"strings"

	"lancamentos/internal/core"

	"github.com/shopspring/decimal"
)

// Header is the first row of every exported statement.
var Header = []string{
	"ID", "Descrição", "Parcela", "Lançamento", "Vencimento", "Baixa",
	"Tipo", "Situação", "Conta", "Pessoa", "Centro de custo",
	"Valor documento", "Valor baixado",
}

// StatementRows renders st as header, one row per entry, a blank row, then
// the credit, debit and balance rows for both value axes. Dates use the
// DD/MM/YYYY wire form and values carry two decimals.
func StatementRows(st core.Statement) [][]string {
	rows := make([][]string, 0, len(st.Entries)+6)
	rows = append(rows, append([]string(nil), Header...))
	for _, e := range st.Entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			SanitizeCell(e.Description),
			SanitizeCell(e.Installment),
			e.PostingDate.Wire(),
			e.DueDate.Wire(),
			e.SettlementDate.Wire(),
			SanitizeCell(string(e.Polarity)),
			SanitizeCell(string(e.Status)),
			refLabel(e.Account),
			refLabel(e.Counterparty),
			refLabel(e.CostCenter),
			money(e.DocumentValue),
			money(e.SettledValue),
		})
	}
	rows = append(rows, []string{},
		totalsRow("Entradas", st.Document.Credit, st.Settled.Credit),
		totalsRow("Saídas", st.Document.Debit, st.Settled.Debit),
		totalsRow("Saldo", st.Document.Balance, st.Settled.Balance),
	)
	return rows
}

func totalsRow(label string, document, settled decimal.Decimal) []string {
	row := make([]string, len(Header))
	row[1] = label
	row[len(row)-2] = money(document)
	row[len(row)-1] = money(settled)
	return row
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func refLabel(r *core.Ref) string {
	if r == nil {
		return ""
	}
	if r.Label != "" {
		return SanitizeCell(r.Label)
	}
	return "#" + strconv.FormatInt(r.ID, 10)
}

// SanitizeCell stops free text from being read as a formula when the sheet
// parses user-entered values.
func SanitizeCell(s string) string {
	if s == "" {
		return s
	}
	if strings.ContainsAny(s[:1], "=+-@\t\r") {
		return "'" + s
	}
	return s
}
