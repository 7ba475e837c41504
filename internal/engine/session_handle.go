package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

var _ sessions.Session = (*SessionHandle)(nil)

// SessionHandle is the engine's view of one client connection. It is created
// in the handshaking state and passed explicitly to every engine call.
type SessionHandle struct {
	sessionID string
	w         MessageWriter

	mu              sync.RWMutex
	state           sessions.State
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	caps            sessions.CapabilitySet
	stopEmitters    context.CancelFunc

	invocations *invocationTable
}

func newSessionHandle(id string, w MessageWriter) *SessionHandle {
	return &SessionHandle{
		sessionID:   id,
		w:           w,
		state:       sessions.StateHandshaking,
		invocations: newInvocationTable(),
	}
}

func (s *SessionHandle) SessionID() string { return s.sessionID }

func (s *SessionHandle) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

func (s *SessionHandle) ClientInfo() mcp.ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

func (s *SessionHandle) Capabilities() sessions.CapabilitySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *SessionHandle) State() sessions.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PendingInvocations reports how many tool calls are still in flight.
func (s *SessionHandle) PendingInvocations() int { return s.invocations.len() }

// markReady records the negotiated parameters and completes the handshake.
func (s *SessionHandle) markReady(version string, info mcp.ImplementationInfo, caps sessions.CapabilitySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !sessions.CanTransition(s.state, sessions.StateReady) {
		return &sessions.TransitionError{From: s.state, To: sessions.StateReady}
	}
	s.state = sessions.StateReady
	s.protocolVersion = version
	s.clientInfo = info
	s.caps = caps
	return nil
}

// markClosed moves the session to its terminal state. It reports whether this
// call performed the transition.
func (s *SessionHandle) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !sessions.CanTransition(s.state, sessions.StateClosed) {
		return false
	}
	s.state = sessions.StateClosed
	if s.stopEmitters != nil {
		s.stopEmitters()
		s.stopEmitters = nil
	}
	return true
}

func (s *SessionHandle) setEmitterStop(stop context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessions.StateClosed {
		stop()
		return
	}
	s.stopEmitters = stop
}

// send encodes and writes an outbound frame. Nothing is written once the
// session is closed.
func (s *SessionHandle) send(ctx context.Context, v any) error {
	if s.State() == sessions.StateClosed {
		return ErrSessionClosed
	}
	msg, err := jsonrpc.Encode(v)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	return s.w.WriteMessage(ctx, msg)
}
