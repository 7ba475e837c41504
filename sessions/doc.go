// Package sessions defines the session abstraction shared by the engine, the
// stdio transport and tool implementations. A session represents one
// connected client: the negotiated protocol version, the capabilities the
// client declared, and where the session is in its lifecycle.
//
// Tool handlers receive a Session on every call. Nothing in the server keeps
// a session in package-level state; the engine passes it explicitly so that a
// process could host several sessions without redesign.
package sessions
