package mcpservice

import (
	"context"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

// ServerOption configures a concrete ServerCapabilities implementation.
type ServerOption func(*server)

type server struct {
	info         ServerInfoProvider
	protocol     ProtocolVersionProvider
	instructions InstructionsProvider
	tools        ToolsCapabilityProvider
	logging      LoggingCapabilityProvider
}

// NewServer builds a ServerCapabilities using functional options. Every
// option takes a provider, so static values, self-providing containers and
// per-session functions all plug in the same way.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithServerInfo sets the server info provider (see StaticServerInfo).
func WithServerInfo(p ServerInfoProvider) ServerOption {
	return func(s *server) { s.info = p }
}

// WithProtocolVersion sets the preferred protocol version provider.
func WithProtocolVersion(p ProtocolVersionProvider) ServerOption {
	return func(s *server) { s.protocol = p }
}

// WithInstructions sets the instructions provider (see StaticInstructions).
func WithInstructions(p InstructionsProvider) ServerOption {
	return func(s *server) { s.instructions = p }
}

// WithToolsCapability wires the tools provider. *ToolsContainer satisfies it
// directly.
func WithToolsCapability(p ToolsCapabilityProvider) ServerOption {
	return func(s *server) { s.tools = p }
}

// WithLoggingCapability wires the logging provider. The value returned by
// NewSlogLevelVarLogging satisfies it directly.
func WithLoggingCapability(p LoggingCapabilityProvider) ServerOption {
	return func(s *server) { s.logging = p }
}

// GetServerInfo implements ServerCapabilities.
func (s *server) GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error) {
	if s.info == nil {
		// Zero value if not configured; the engine may still proceed.
		return mcp.ImplementationInfo{}, nil
	}
	info, _, err := s.info.ProvideServerInfo(ctx, session)
	return info, err
}

// GetPreferredProtocolVersion implements ServerCapabilities.
func (s *server) GetPreferredProtocolVersion(ctx context.Context, clientVersion string) (string, bool, error) {
	if s.protocol == nil {
		return "", false, nil
	}
	return s.protocol.ProvideProtocolVersion(ctx, clientVersion)
}

// GetInstructions implements ServerCapabilities.
func (s *server) GetInstructions(ctx context.Context, session sessions.Session) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return s.instructions.ProvideInstructions(ctx, session)
}

// GetToolsCapability implements ServerCapabilities.
func (s *server) GetToolsCapability(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	if s.tools == nil {
		return nil, false, nil
	}
	return s.tools.ProvideTools(ctx, session)
}

// GetLoggingCapability implements ServerCapabilities.
func (s *server) GetLoggingCapability(ctx context.Context, session sessions.Session) (LoggingCapability, bool, error) {
	if s.logging == nil {
		return nil, false, nil
	}
	return s.logging.ProvideLogging(ctx, session)
}
