// Package mcp contains protocol data types and constants for the subset of the
// Model Context Protocol that the coffee shop server speaks: the initialize
// handshake, tool listing and invocation, logging level control, progress and
// cancellation.
//
// The package is free of transport logic. The stdio transport and the engine
// import these types and implement their own framing and session handling.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod).
//
// # Protocol Revisions
//
// Revisions are dates. NegotiateProtocolVersion implements the server's
// policy: supported revisions are used as-is, unknown revisions inside a
// supported year are clamped, everything else is rejected.
//
//	v, err := mcp.NegotiateProtocolVersion("2025-09-01") // "2025-06-18", nil
//	_, err = mcp.NegotiateProtocolVersion("2031-01-01")  // ErrUnsupportedProtocolVersion
//
// # Tool Schemas
//
// ToolInputSchema is a simplified JSON Schema object. Tools built with
// mcpservice.NewTool get one reflected from their argument struct.
package mcp
