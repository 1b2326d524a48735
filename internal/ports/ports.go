// Package ports declares the collaborator interfaces the ledger service
// depends on. The REST client, the SQLite mirror and the in-memory store
// each implement them.
package ports

import (
	"context"
	"errors"

	"lancamentos/internal/wire"
)

// ErrNotFound is returned by every backend when an entry id is unknown.
var ErrNotFound = errors.New("entry not found")

type (
	// EntrySource returns raw backend records.
	EntrySource interface {
		ListEntries(ctx context.Context) ([]wire.Record, error)
		GetEntry(ctx context.Context, id int64) (wire.Record, error)
	}

	// LookupSource returns the raw lookup list of one kind.
	LookupSource interface {
		ListLookups(ctx context.Context, kind wire.LookupKind) ([]wire.RefRecord, error)
	}

	// EntryWriter applies sparse patches to the backend. CreateEntry returns
	// the id assigned to the new entry.
	EntryWriter interface {
		CreateEntry(ctx context.Context, patch wire.Patch) (int64, error)
		UpdateEntry(ctx context.Context, id int64, patch wire.Patch) error
		DeleteEntry(ctx context.Context, id int64) error
	}

	// Ledger is the full backend surface.
	Ledger interface {
		EntrySource
		LookupSource
		EntryWriter
	}

	// HealthChecker is implemented by backends that can report readiness.
	HealthChecker interface {
		Ping(ctx context.Context) error
	}
)
