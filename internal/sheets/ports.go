package sheets

import (
	"context"

	"lancamentos/internal/core"
)

// StatementWriter publishes a statement as a grid of cells, replacing
// whatever an earlier export left behind.
type StatementWriter interface {
	WriteStatement(ctx context.Context, st core.Statement) error
}
