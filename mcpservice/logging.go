package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

// --- Logging capability helpers ---

// NewSlogLevelVarLogging returns a logging capability that maps MCP LoggingLevel
// to a provided slog.LevelVar. This adjusts process-wide slog level when used
// with handlers created from the same LevelVar.
//
// The returned value is both a LoggingCapability and a
// LoggingCapabilityProvider, so it can be passed to WithLoggingCapability
// directly.
func NewSlogLevelVarLogging(lv *slog.LevelVar) *SlogLevelVarLogging {
	return &SlogLevelVarLogging{lv: lv}
}

// SlogLevelVarLogging adjusts a slog.LevelVar from logging/setLevel requests.
type SlogLevelVarLogging struct{ lv *slog.LevelVar }

// ProvideLogging implements LoggingCapabilityProvider for static slog level var logging.
func (l *SlogLevelVarLogging) ProvideLogging(ctx context.Context, session sessions.Session) (LoggingCapability, bool, error) {
	if l == nil {
		return nil, false, nil
	}
	return l, true, nil
}

// SetLevel implements LoggingCapability.
func (l *SlogLevelVarLogging) SetLevel(ctx context.Context, _ sessions.Session, level mcp.LoggingLevel) error {
	if l == nil || l.lv == nil {
		return nil
	}
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	var slogLevel slog.Level
	switch level {
	case mcp.LoggingLevelDebug:
		slogLevel = slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		// Map notice to info
		slogLevel = slog.LevelInfo
	case mcp.LoggingLevelWarning:
		slogLevel = slog.LevelWarn
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		// Map error and above to error
		slogLevel = slog.LevelError
	default:
		// Unknown -> leave unchanged
		return ErrInvalidLoggingLevel
	}
	l.lv.Set(slogLevel)
	return nil
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")
