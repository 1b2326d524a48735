package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"lancamentos/internal/core"
)

func bufferLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Level: level, Component: ComponentLedger, Output: buf})
}

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf, slog.LevelInfo)

	logger.Info("hello", "k", "v")
	logger.WithComponent(ComponentREST).Warn("upstream slow")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "k=v") {
		t.Errorf("missing fields in %q", out)
	}
	if !strings.Contains(out, "component=rest") {
		t.Errorf("component override missing in %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record should be filtered at info level")
	}
	if strings.Count(out, "component=") != 2 {
		t.Errorf("component must appear once per record: %q", out)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf, slog.LevelInfo)

	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Errorf("fallback component = %q", got.Component())
	}
	if got := FromContext(WithLogger(context.Background(), logger)); got != logger {
		t.Errorf("expected stored logger")
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(bufferLogger(&buf, slog.LevelInfo))
	ctx := context.Background()

	sl.LogDiagnostics(ctx, []core.Diagnostic{{EntryID: 9, Field: "situacao", Token: "pendente", Label: "Pendente"}})
	sl.LogError(ctx, "fetch failed", errors.New("boom"), ComponentREST, OpList, nil)

	out := buf.String()
	for _, want := range []string{"level=WARN", "entry_id=9", "token=pendente", "level=ERROR", "error=boom", "operation=list"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
