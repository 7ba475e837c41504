package engine

import (
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

var (
	// ErrProtocolMismatch is wrapped by the error returned when a client asks
	// for a protocol revision the server cannot speak. It is fatal to the
	// session.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrTransport is wrapped by transports when the underlying stream fails.
	// It is fatal to the session.
	ErrTransport = errors.New("transport error")
	// ErrSessionClosed is returned when work is attempted on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Kind classifies a protocol error. It is surfaced to clients in the error
// object's data member.
type Kind string

const (
	KindParseError       Kind = "ParseError"
	KindInvalidRequest   Kind = "InvalidRequest"
	KindMethodNotFound   Kind = "MethodNotFound"
	KindInvalidArguments Kind = "InvalidArguments"
	KindToolNotFound     Kind = "ToolNotFound"
	KindProtocolMismatch Kind = "ProtocolMismatch"
	KindInternalError    Kind = "InternalError"
	KindInvocationError  Kind = "InvocationError"
	KindOutOfSequence    Kind = "OutOfSequence"
)

// Code maps the kind onto its JSON-RPC error code.
func (k Kind) Code() jsonrpc.ErrorCode {
	switch k {
	case KindParseError:
		return jsonrpc.ErrorCodeParseError
	case KindInvalidRequest:
		return jsonrpc.ErrorCodeInvalidRequest
	case KindMethodNotFound:
		return jsonrpc.ErrorCodeMethodNotFound
	case KindInvalidArguments, KindToolNotFound, KindProtocolMismatch:
		return jsonrpc.ErrorCodeInvalidParams
	case KindInvocationError:
		return jsonrpc.ErrorCodeInvocationFailed
	case KindOutOfSequence:
		return jsonrpc.ErrorCodeOutOfSequence
	default:
		return jsonrpc.ErrorCodeInternalError
	}
}

// Error is a protocol-level failure that resolves into an error response.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any

	err error
}

// ErrorData is the shape of the data member of every error response.
type ErrorData struct {
	Kind    Kind           `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Response renders the error as a JSON-RPC response correlated to id.
func (e *Error) Response(id *jsonrpc.RequestID) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, e.Kind.Code(), e.Message, ErrorData{Kind: e.Kind, Details: e.Details})
}

func newError(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// NewParseError builds the error sent for a malformed frame whose id could be
// recovered.
func NewParseError(cause error) *Error {
	var details map[string]any
	if cause != nil {
		details = map[string]any{"error": cause.Error()}
	}
	return newError(KindParseError, "parse error", details)
}

func outOfSequence(method string, state sessions.State) *Error {
	return newError(KindOutOfSequence, "request not allowed in current session state", map[string]any{
		"method": method,
		"state":  string(state),
	})
}

func methodNotFound(method string) *Error {
	return newError(KindMethodNotFound, "method not found", map[string]any{"method": method})
}

func invalidArguments(msg string, details map[string]any) *Error {
	return newError(KindInvalidArguments, msg, details)
}

func internalError() *Error {
	return newError(KindInternalError, "internal error", nil)
}
