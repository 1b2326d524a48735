// Package wire holds the backend JSON shapes of ledger entries and lookups
// and converts them to and from the canonical core types.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"lancamentos/internal/core"

	"github.com/shopspring/decimal"
)

var null = []byte("null")

// ID is a backend identifier. The backend sends numbers, but numeric
// strings are accepted too. Null, empty, unparseable or out of range
// values decode to 0, so one dirty id never fails a whole list and a
// nested reference carrying one reads as absent.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	*id = ID(parseID(b))
	return nil
}

func parseID(b []byte) int64 {
	s := string(bytes.TrimSpace(b))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return 0
		}
		s = strings.TrimSpace(s)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// Token is a free-form scalar: string, number or boolean. Booleans become
// "1" and "0", null becomes "".
type Token string

func (t *Token) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, null):
		*t = ""
	case bytes.Equal(b, []byte("true")):
		*t = "1"
	case bytes.Equal(b, []byte("false")):
		*t = "0"
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode token: %w", err)
		}
		*t = Token(s)
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		// Structured values carry no usable token.
		*t = ""
	default:
		*t = Token(b)
	}
	return nil
}

// Amount is a raw monetary value as sent by the backend: a JSON number, a
// numeric string or null. It keeps the literal text until Decimal is called.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	var t Token
	if err := t.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	*a = Amount(t)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return null, nil
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return json.Marshal(s)
	}
	return []byte(s), nil
}

// Decimal returns the coerced magnitude of the amount.
func (a Amount) Decimal() decimal.Decimal {
	return core.CoerceAmount(string(a))
}

// RefRecord is a nested account, counterparty or cost center object.
type RefRecord struct {
	ID          ID    `json:"id"`
	Description Token `json:"descricao,omitempty"`
	Name        Token `json:"nome,omitempty"`
	CompanyName Token `json:"razaoSocial,omitempty"`
}

// Record is the backend wire shape of a ledger entry.
type Record struct {
	ID             ID         `json:"id"`
	Description    Token      `json:"descricao"`
	Installment    Token      `json:"parcela"`
	PostingDate    Token      `json:"dataLancamento"`
	DueDate        Token      `json:"dataVencimento"`
	SettlementDate Token      `json:"dataBaixa"`
	DocumentValue  Amount     `json:"valorDocumento"`
	SettledValue   Amount     `json:"valorBaixado"`
	Polarity       Token      `json:"tipoLancamento"`
	Status         Token      `json:"situacao"`
	Account        *RefRecord `json:"conta,omitempty"`
	Counterparty   *RefRecord `json:"pessoa,omitempty"`
	CostCenter     *RefRecord `json:"centroCusto,omitempty"`
}

// firstNonEmpty returns the first non-blank value.
func firstNonEmpty(values ...Token) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}
