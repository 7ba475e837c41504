package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// Implementation-defined server errors (-32000 to -32099).

	// ErrorCodeInvocationFailed indicates a tool handler returned an error or
	// was cancelled.
	ErrorCodeInvocationFailed ErrorCode = -32001
	// ErrorCodeOutOfSequence indicates a request arrived in a session state
	// that does not accept it (before initialize, or a repeated initialize).
	ErrorCodeOutOfSequence ErrorCode = -32002
)
