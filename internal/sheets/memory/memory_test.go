package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"lancamentos/internal/core"

	"github.com/shopspring/decimal"
)

func TestWriter(t *testing.T) {
	w := New()
	st := core.BuildStatement([]core.Entry{
		{ID: 1, Description: "Venda", DocumentValue: decimal.NewFromInt(10), Polarity: core.Credit},
	}, core.Criteria{})

	for i := 0; i < 2; i++ {
		if err := w.WriteStatement(context.Background(), st); err != nil {
			t.Fatalf("WriteStatement: %v", err)
		}
	}
	if w.Writes() != 2 {
		t.Errorf("expected 2 writes, got %d", w.Writes())
	}
	rows := w.Rows()
	if len(rows) != 6 || rows[1][1] != "Venda" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	rows[1][1] = "changed"
	if w.Rows()[1][1] != "Venda" {
		t.Error("Rows must return a copy")
	}

	var buf bytes.Buffer
	if err := w.Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "ID;Descrição;") {
		t.Errorf("unexpected dump: %q", buf.String())
	}
}
