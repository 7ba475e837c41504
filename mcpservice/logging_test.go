package mcpservice

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

func TestSlogLevelVarLogging(t *testing.T) {
	lv := new(slog.LevelVar)
	logging := NewSlogLevelVarLogging(lv)

	provided, ok, err := logging.ProvideLogging(context.Background(), nopSession{})
	if err != nil || !ok || provided == nil {
		t.Fatalf("ProvideLogging = %v, %v, %v", provided, ok, err)
	}

	tests := []struct {
		level mcp.LoggingLevel
		want  slog.Level
	}{
		{mcp.LoggingLevelDebug, slog.LevelDebug},
		{mcp.LoggingLevelNotice, slog.LevelInfo},
		{mcp.LoggingLevelWarning, slog.LevelWarn},
		{mcp.LoggingLevelEmergency, slog.LevelError},
		{mcp.LoggingLevelInfo, slog.LevelInfo},
	}
	for _, tt := range tests {
		if err := logging.SetLevel(context.Background(), nopSession{}, tt.level); err != nil {
			t.Fatalf("SetLevel(%s): %v", tt.level, err)
		}
		if got := lv.Level(); got != tt.want {
			t.Fatalf("SetLevel(%s) -> %v, want %v", tt.level, got, tt.want)
		}
	}

	if err := logging.SetLevel(context.Background(), nopSession{}, "loud"); !errors.Is(err, ErrInvalidLoggingLevel) {
		t.Fatalf("err = %v", err)
	}
	if got := lv.Level(); got != slog.LevelInfo {
		t.Fatalf("invalid level changed the LevelVar to %v", got)
	}
}
