// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for running servers as subprocesses of the
// client that talks to them.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Sessions         : one per Serve call, memory only
//	Framing          : newline-delimited JSON-RPC 2.0, one message per line
//	Concurrency      : tool calls run concurrently unless WithSequential(true)
//
// Options allow supplying alternate io.Reader / io.Writer, a custom logger,
// and a frame size limit.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcpservice.StaticServerInfo("my-stdio-server", "0.1.0")),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
//
// Logs must never be written to stdout; it carries protocol frames only.
package stdio
