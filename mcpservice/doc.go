// Package mcpservice provides building blocks for implementing MCP server
// capabilities in a composable way. It exposes the capability interfaces
// consumed by the protocol engine, plus helpers for static tools, logging
// level control and change notifications.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"required"`
//	}
//	echo := mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, s sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	)
//	tools, err := mcpservice.NewToolsContainer(echo)
//	if err != nil { ... }
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcpservice.StaticServerInfo("example", "1.0.0")),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Tools can be swapped at runtime. Every ready session then receives
// notifications/tools/list_changed:
//
//	if err := tools.Put(ctx, echo); err != nil { ... }
package mcpservice
