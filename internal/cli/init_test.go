package cli

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"lancamentos/internal/log"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		logger := SetupLogger(tt.level)
		ctx := context.Background()
		if !logger.Enabled(ctx, tt.want) {
			t.Errorf("%q: level %v should be enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-4) {
			t.Errorf("%q: level below %v should be disabled", tt.level, tt.want)
		}
	}
}

func TestGracefulShutdown(t *testing.T) {
	var calls atomic.Int32
	ctx, done := GracefulShutdown(log.Discard(), time.Second, func(context.Context) { calls.Add(1) })

	select {
	case <-done:
		t.Fatal("done closed before any signal")
	case <-time.After(20 * time.Millisecond):
	}
	if ctx.Err() != nil {
		t.Fatal("context cancelled before any signal")
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send signal: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	if ctx.Err() == nil {
		t.Error("context should be cancelled after the signal")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("cleanup ran %d times, want 1", n)
	}
}

func TestAddress(t *testing.T) {
	if got := Address("8081"); got != ":8081" {
		t.Errorf("Address = %q", got)
	}
}
