// Package memory keeps exported statements in process, for dry runs and
// tests.
package memory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"lancamentos/internal/core"
	"lancamentos/internal/sheets"
)

var _ sheets.StatementWriter = (*Writer)(nil)

type Writer struct {
	mu     sync.Mutex
	rows   [][]string
	writes int
}

func New() *Writer { return &Writer{} }

// WriteStatement replaces the stored grid with the rows of st.
func (w *Writer) WriteStatement(_ context.Context, st core.Statement) error {
	rows := sheets.StatementRows(st)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = rows
	w.writes++
	return nil
}

// Rows returns a copy of the last exported grid.
func (w *Writer) Rows() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]string, len(w.rows))
	for i, r := range w.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Writes counts calls to WriteStatement.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// Dump writes the last grid to out as semicolon separated values.
func (w *Writer) Dump(out io.Writer) error {
	cw := csv.NewWriter(out)
	cw.Comma = ';'
	if err := cw.WriteAll(w.Rows()); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
