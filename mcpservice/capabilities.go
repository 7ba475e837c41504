// Package mcpservice defines the capability interfaces that an MCP server
// implementation exposes to the engine, together with ready-made static
// implementations (ToolsContainer, NewTool, NewSlogLevelVarLogging).
//
// Conventions used throughout this package:
//   - Capability discovery methods return (cap, ok, err). A false ok indicates
//     that the capability is not supported for the given session; err should be
//     reserved for transient or internal failures while determining support.
//   - All methods accept a context.Context which MUST be honored for
//     cancellation.
//   - The sessions.Session value is the unit of isolation.
//   - Pagination uses the Page[T] type in this package; a nil cursor requests
//     the first page.
package mcpservice

import (
	"context"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

type ServerCapabilities interface {
	// GetServerInfo returns static implementation information about the server
	// that is surfaced in initialize results (name, version, etc.).
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred MCP protocol
	// version given what the client asked for. If ok is false, the engine uses
	// the negotiated client version unchanged.
	GetPreferredProtocolVersion(ctx context.Context, clientVersion string) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions that should be
	// surfaced to the client during initialization.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability if supported by the server
	// for the given session. If ok is false, the engine will not advertise tool
	// support and tools/* requests fail with method-not-found.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)

	// GetLoggingCapability returns the logging capability if supported by the
	// server for the given session.
	GetLoggingCapability(ctx context.Context, session sessions.Session) (cap LoggingCapability, ok bool, err error)
}

// ToolsCapability defines the server's tools surface area. The engine treats
// it as read-only. All methods MUST be safe for concurrent use.
type ToolsCapability interface {
	// ListTools returns a (possibly paginated) list of tools available to the
	// session, in registry order. A nil cursor requests the first page.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// GetTool looks up a single descriptor by name. ok is false when the
	// registry has no such tool; the engine never invokes CallTool in that case.
	GetTool(ctx context.Context, session sessions.Session, name string) (tool mcp.Tool, ok bool, err error)

	// CallTool invokes a named tool. The engine has already validated the
	// arguments against the tool's input schema. A non-nil error is reported
	// to the client as an invocation failure; a result with IsError set is a
	// successful response carrying the tool's own failure report.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	// GetListChangedCapability returns an optional capability that, when
	// present, allows the engine to register a callback to be invoked when the
	// tool list changes.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ToolListChangedCapability, ok bool, err error)
}

// NotifyToolsListChangedFunc is invoked when the server's tool list changes for
// the session. Implementations MAY coalesce rapid changes and deliver fewer
// callbacks.
type NotifyToolsListChangedFunc func(ctx context.Context, session sessions.Session)

// ToolListChangedCapability provides tools list-changed notifications support.
// Register respects ctx cancellation to stop delivering callbacks.
type ToolListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (ok bool, err error)
}

// LoggingCapability allows the client to adjust the server's logging level.
type LoggingCapability interface {
	SetLevel(ctx context.Context, session sessions.Session, level mcp.LoggingLevel) error
}
