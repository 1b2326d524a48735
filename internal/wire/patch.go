package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lancamentos/internal/core"

	"github.com/shopspring/decimal"
)

// Field is an optional patch value that distinguishes "absent" (leave the
// backend field untouched) from "present and null" (clear it).
type Field[T any] struct {
	Value   T
	Present bool
	Null    bool
}

// Set returns a present field holding v.
func Set[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// Null returns a present field with a null value.
func Null[T any]() Field[T] {
	return Field[T]{Present: true, Null: true}
}

// UnmarshalJSON is only invoked for keys present in the document, which is
// what marks the field present.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Present = true
	if bytes.Equal(bytes.TrimSpace(b), null) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(b, &f.Value)
}

// PatchInput is a partial canonical entry as submitted by a client.
type PatchInput struct {
	Description    Field[string]          `json:"descricao"`
	Installment    Field[string]          `json:"parcela"`
	PostingDate    Field[string]          `json:"dataLancamentoISO"`
	DueDate        Field[string]          `json:"dataVencimentoISO"`
	SettlementDate Field[string]          `json:"dataBaixaISO"`
	DocumentValue  Field[decimal.Decimal] `json:"valorDocumento"`
	SettledValue   Field[decimal.Decimal] `json:"valorBaixado"`
	Polarity       Field[string]          `json:"tipoLancamento"`
	Status         Field[string]          `json:"situacao"`
	AccountID      Field[int64]           `json:"contaId"`
	CounterpartyID Field[int64]           `json:"pessoaId"`
	CostCenterID   Field[int64]           `json:"centroCustoId"`
}

// Patch is a sparse backend-shaped body. Only keys the caller touched are
// present; numbers are json.Number so they encode without quotes.
type Patch map[string]any

// Keys returns the patch keys, for logging.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// ToWire builds the sparse backend patch for p. Present nulls are emitted
// as null, absent fields are omitted.
func ToWire(p PatchInput) Patch {
	out := Patch{}
	putText(out, "descricao", p.Description)
	putText(out, "parcela", p.Installment)
	putDate(out, "dataLancamento", p.PostingDate)
	putDate(out, "dataVencimento", p.DueDate)
	putDate(out, "dataBaixa", p.SettlementDate)
	putAmount(out, "valorDocumento", p.DocumentValue)
	putAmount(out, "valorBaixado", p.SettledValue)
	if p.Polarity.Present {
		out["tipoLancamento"] = string(core.NormalizePolarity(p.Polarity.Value))
	}
	if p.Status.Present {
		out["situacao"] = string(core.NormalizeStatus(p.Status.Value))
	}
	putRef(out, "conta", p.AccountID)
	putRef(out, "pessoa", p.CounterpartyID)
	putRef(out, "centroCusto", p.CostCenterID)
	return out
}

func putText(out Patch, key string, f Field[string]) {
	if !f.Present {
		return
	}
	if f.Null {
		out[key] = nil
		return
	}
	out[key] = f.Value
}

func putDate(out Patch, key string, f Field[string]) {
	if !f.Present {
		return
	}
	if w := core.KeyToWire(f.Value); w != "" {
		out[key] = w
		return
	}
	out[key] = nil
}

func putAmount(out Patch, key string, f Field[decimal.Decimal]) {
	if !f.Present {
		return
	}
	out[key] = json.Number(f.Value.String())
}

func putRef(out Patch, key string, f Field[int64]) {
	if !f.Present {
		return
	}
	if f.Value == 0 {
		out[key] = nil
		return
	}
	out[key] = map[string]any{"id": json.Number(fmt.Sprint(f.Value))}
}

// ErrEmptyPatch is returned when an update carries no field at all.
var ErrEmptyPatch = errors.New("patch has no fields")

// Validate checks the submitted values strictly. The adapter itself stays
// lenient; this is what the API runs before accepting a write.
func (p PatchInput) Validate() error {
	var msgs []string
	for _, d := range []struct {
		name string
		f    Field[string]
	}{
		{"dataLancamentoISO", p.PostingDate},
		{"dataVencimentoISO", p.DueDate},
		{"dataBaixaISO", p.SettlementDate},
	} {
		if !d.f.Present || d.f.Null || d.f.Value == "" {
			continue
		}
		if err := core.DateKey(d.f.Value).Valid(); err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v %q", d.name, err, d.f.Value))
		}
	}
	for _, v := range []struct {
		name string
		f    Field[decimal.Decimal]
	}{
		{"valorDocumento", p.DocumentValue},
		{"valorBaixado", p.SettledValue},
	} {
		if v.f.Present && v.f.Value.IsNegative() {
			msgs = append(msgs, fmt.Sprintf("%s: must not be negative", v.name))
		}
	}
	if p.Polarity.Present {
		if _, err := core.ClassifyPolarity(p.Polarity.Value); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if p.Status.Present {
		if _, err := core.ClassifyStatus(p.Status.Value); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	for _, r := range []struct {
		name string
		f    Field[int64]
	}{
		{"contaId", p.AccountID},
		{"pessoaId", p.CounterpartyID},
		{"centroCustoId", p.CostCenterID},
	} {
		if r.f.Present && r.f.Value < 0 {
			msgs = append(msgs, fmt.Sprintf("%s: must not be negative", r.name))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("invalid entry: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ApplyPatch merges patch into a stored backend record and returns the new
// JSON. A nil or empty raw record starts from an empty object.
func ApplyPatch(raw json.RawMessage, patch Patch) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	for k, v := range patch {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// NewRecord builds the stored JSON of a newly created entry.
func NewRecord(id int64, patch Patch) (json.RawMessage, error) {
	merged := Patch{}
	for k, v := range patch {
		merged[k] = v
	}
	merged["id"] = json.Number(fmt.Sprint(id))
	return ApplyPatch(nil, merged)
}

// DecodeRecords parses a JSON array of backend records.
func DecodeRecords(b []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
