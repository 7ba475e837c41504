package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
	"github.com/ggoodman/mcp-coffee-shop/internal/logctx"
	"github.com/ggoodman/mcp-coffee-shop/internal/validation"
	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
	"github.com/google/uuid"
)

// Engine is the protocol core of an MCP server. It owns the session state
// machine, request routing and tool invocation bookkeeping, and is
// transport-agnostic: a transport feeds it decoded messages and writes back
// whatever it returns.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv: srv,
		log: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// NewSession creates a session in the handshaking state. Unsolicited
// messages for the session (progress, list changes) are written to w.
func (e *Engine) NewSession(w MessageWriter) *SessionHandle {
	return newSessionHandle(uuid.NewString(), w)
}

// Call is an accepted tools/call whose handler has not run yet. It is
// already registered in the session's invocation table, so a cancellation
// arriving before Run starts is honored.
type Call struct {
	e      *Engine
	sess   *SessionHandle
	req    *jsonrpc.Request
	inv    *invocation
	tools  mcpservice.ToolsCapability
	params mcp.CallToolRequestReceived
	ctx    context.Context
	start  time.Time
}

// ID returns the id of the request being answered.
func (c *Call) ID() *jsonrpc.RequestID { return c.req.ID }

// HandleRequest processes one request to completion. A non-nil error is fatal
// to the session; the response, when present, must still be delivered first.
func (e *Engine) HandleRequest(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	res, call, err := e.Accept(ctx, sess, req)
	if call != nil {
		return call.Run(), nil
	}
	return res, err
}

// Accept performs the synchronous part of request handling. Most methods
// complete here and yield a response. An accepted tools/call yields a Call
// instead, which the caller runs inline or on its own goroutine.
func (e *Engine) Accept(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, *Call, error) {
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	state := sess.State()
	switch state {
	case sessions.StateHandshaking:
		switch req.Method {
		case string(mcp.InitializeMethod):
			res, err := e.initialize(ctx, sess, req)
			return res, nil, err
		}
	case sessions.StateReady:
		switch req.Method {
		case string(mcp.PingMethod):
			return e.handlePing(ctx, req), nil, nil
		case string(mcp.ToolsListMethod):
			return e.handleToolsList(ctx, sess, req), nil, nil
		case string(mcp.ToolsCallMethod):
			call, res := e.acceptToolCall(ctx, sess, req)
			return res, call, nil
		case string(mcp.LoggingSetLevelMethod):
			return e.handleSetLoggingLevel(ctx, sess, req), nil, nil
		case string(mcp.InitializeMethod):
			// falls through to out-of-sequence below
		default:
			e.log.InfoContext(ctx, "engine.handle_request.unknown_method")
			return methodNotFound(req.Method).Response(req.ID), nil, nil
		}
	}

	e.log.InfoContext(ctx, "engine.handle_request.out_of_sequence")
	return outOfSequence(req.Method, state).Response(req.ID), nil, nil
}

func (e *Engine) initialize(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := decodeParams(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", err.Error()))
		return invalidArguments("invalid initialize params", map[string]any{"error": err.Error()}).Response(req.ID), nil
	}
	if params.ProtocolVersion == "" {
		log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", "missing protocolVersion"))
		return invalidArguments("protocolVersion is required", fieldDetails(validation.FieldError{
			Path:     "protocolVersion",
			Expected: "string",
			Actual:   "missing",
			Reason:   "required field is missing",
		})).Response(req.ID), nil
	}

	version, perr := e.negotiateVersion(ctx, params.ProtocolVersion)
	if perr != nil {
		log.WarnContext(ctx, "engine.initialize.protocol_mismatch", slog.String("requested", params.ProtocolVersion))
		return perr.Response(req.ID), perr
	}

	result, err := e.buildInitializeResult(ctx, sess, version)
	if err != nil {
		log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID), nil
	}

	if err := sess.markReady(version, params.ClientInfo, sessions.CapabilitySetFrom(params.Capabilities)); err != nil {
		log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return outOfSequence(req.Method, sess.State()).Response(req.ID), nil
	}
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))

	e.registerListChangedEmitters(ctx, sess)

	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID), nil
	}
	log.InfoContext(ctx, "engine.session.ready",
		slog.String("client", params.ClientInfo.Name),
		slog.String("requested_version", params.ProtocolVersion),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return res, nil
}

func (e *Engine) buildInitializeResult(ctx context.Context, sess *SessionHandle, version string) (*mcp.InitializeResult, error) {
	serverInfo, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	initRes := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		initRes.Instructions = instr
	}

	// Tool invocation is always advertised; a server without a tools
	// capability simply lists nothing.
	initRes.Capabilities.Tools = &mcp.ToolsServerCapability{}
	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && toolsCap != nil {
		if lc, hasLC, lcErr := toolsCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			return nil, fmt.Errorf("get tools listChanged capability: %w", lcErr)
		} else if hasLC && lc != nil {
			initRes.Capabilities.Tools.ListChanged = true
		}
	}

	if _, ok, err := e.srv.GetLoggingCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get logging capability: %w", err)
	} else if ok {
		initRes.Capabilities.Logging = &struct{}{}
	}

	return initRes, nil
}

func (e *Engine) handlePing(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID)
	}
	return res
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SetLevelRequest
	if err := decodeParams(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return invalidArguments("invalid params", map[string]any{"error": err.Error()}).Response(req.ID)
	}
	if !mcp.IsValidLoggingLevel(params.Level) {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "invalid level"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return invalidArguments("invalid logging level", fieldDetails(validation.FieldError{
			Path:     "level",
			Expected: "logging level",
			Actual:   string(params.Level),
			Reason:   "value not allowed",
		})).Response(req.ID)
	}

	logCap, ok, err := e.srv.GetLoggingCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID)
	}
	if !ok || logCap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return methodNotFound(req.Method).Response(req.ID)
	}
	if err := logCap.SetLevel(ctx, sess, params.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return invalidArguments("invalid logging level", map[string]any{"error": err.Error()}).Response(req.ID)
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID)
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("level", string(params.Level)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	res, err := jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	if err != nil {
		return internalError().Response(req.ID)
	}
	return res
}

func (e *Engine) handleToolsList(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if err := decodeParams(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return invalidArguments("invalid params", map[string]any{"error": err.Error()}).Response(req.ID)
	}

	result := &mcp.ListToolsResult{Tools: []mcp.Tool{}}

	toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID)
	}
	if ok && toolsCap != nil {
		var cursor *string
		if params.Cursor != "" {
			c := params.Cursor
			cursor = &c
		}
		page, err := toolsCap.ListTools(ctx, sess, cursor)
		if err != nil {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return internalError().Response(req.ID)
		}
		if page.Items != nil {
			result.Tools = page.Items
		}
		if page.NextCursor != nil {
			result.NextCursor = *page.NextCursor
		}
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(result.Tools)))
	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return internalError().Response(req.ID)
	}
	return res
}

// acceptToolCall resolves, validates and registers a tools/call. Exactly one
// of the return values is non-nil.
func (e *Engine) acceptToolCall(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*Call, *jsonrpc.Response) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := decodeParams(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, invalidArguments("invalid params", map[string]any{"error": err.Error()}).Response(req.ID)
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, invalidArguments("tool name is required", fieldDetails(validation.FieldError{
			Path:     "name",
			Expected: "string",
			Actual:   "missing",
			Reason:   "required field is missing",
		})).Response(req.ID)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return nil, internalError().Response(req.ID)
	}
	var tool mcp.Tool
	found := false
	if ok && toolsCap != nil {
		tool, found, err = toolsCap.GetTool(ctx, sess, params.Name)
		if err != nil {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return nil, internalError().Response(req.ID)
		}
	}
	if !found {
		log.InfoContext(ctx, "engine.tool_call.not_found", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, newError(KindToolNotFound, "tool not found", map[string]any{"tool": params.Name}).Response(req.ID)
	}

	if err := validation.Arguments(tool.InputSchema, params.Arguments); err != nil {
		log.InfoContext(ctx, "engine.tool_call.invalid_arguments", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			return nil, invalidArguments("invalid arguments", map[string]any{"errors": []validation.FieldError(verrs)}).Response(req.ID)
		}
		return nil, invalidArguments("invalid arguments", map[string]any{"error": err.Error()}).Response(req.ID)
	}

	toolCtx, cancel := context.WithCancelCause(ctx)
	inv := &invocation{
		id:      req.ID,
		key:     req.ID.String(),
		tool:    params.Name,
		args:    params.Arguments,
		cancel:  cancel,
		outcome: outcomePending,
	}
	if err := sess.invocations.register(inv); err != nil {
		cancel(err)
		if errors.Is(err, ErrSessionClosed) {
			return nil, nil
		}
		log.InfoContext(ctx, "engine.tool_call.duplicate_id", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return nil, newError(KindInvalidRequest, "request id already in flight", map[string]any{"id": req.ID.Value()}).Response(req.ID)
	}

	if params.Meta != nil && params.Meta.ProgressToken != nil {
		toolCtx = mcpservice.WithProgressReporter(toolCtx, &progressReporter{sess: sess, token: params.Meta.ProgressToken})
	}

	return &Call{
		e:      e,
		sess:   sess,
		req:    req,
		inv:    inv,
		tools:  toolsCap,
		params: params,
		ctx:    toolCtx,
		start:  start,
	}, nil
}

// Run invokes the tool handler and produces the response. It returns nil when
// the session closed while the handler ran; such results are discarded.
func (c *Call) Run() *jsonrpc.Response {
	ctx, sess, inv := c.ctx, c.sess, c.inv
	log := c.e.log.With(slog.String("method", c.req.Method))
	defer func() {
		inv.cancel(context.Canceled)
		sess.invocations.remove(inv)
	}()

	var (
		res *mcp.CallToolResult
		err error
	)
	if ctx.Err() == nil {
		res, err = c.tools.CallTool(ctx, sess, &c.params)
	} else {
		err = context.Cause(ctx)
	}

	if sess.State() == sessions.StateClosed {
		inv.settle(outcomeCancelled)
		log.InfoContext(ctx, "engine.tool_call.discarded", slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
		return nil
	}

	if err != nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(cause, ErrCancelled) {
			inv.settle(outcomeCancelled)
			reason := inv.cancelReason()
			log.InfoContext(ctx, "engine.tool_call.cancelled", slog.String("reason", reason), slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
			return newError(KindInvocationError, "tool invocation cancelled", map[string]any{
				"tool":      inv.tool,
				"cancelled": true,
				"reason":    reason,
			}).Response(c.req.ID)
		}
		inv.settle(outcomeFailed)
		log.WarnContext(ctx, "engine.tool_call.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
		return newError(KindInvocationError, "tool invocation failed", map[string]any{
			"tool":  inv.tool,
			"error": err.Error(),
		}).Response(c.req.ID)
	}

	if res == nil {
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	} else if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}

	out, err := jsonrpc.NewResultResponse(c.req.ID, res)
	if err != nil {
		inv.settle(outcomeFailed)
		log.ErrorContext(ctx, "engine.tool_call.encode_fail", slog.String("err", err.Error()))
		return newError(KindInvocationError, "tool result could not be encoded", map[string]any{
			"tool":  inv.tool,
			"error": err.Error(),
		}).Response(c.req.ID)
	}
	inv.settle(outcomeSucceeded)
	log.InfoContext(ctx, "engine.tool_call.ok", slog.Bool("is_error", res.IsError), slog.Int64("dur_ms", time.Since(c.start).Milliseconds()))
	return out
}

// HandleNotification processes a client notification. Notifications never
// produce responses; unknown ones are ignored.
func (e *Engine) HandleNotification(ctx context.Context, sess *SessionHandle, note *jsonrpc.Request) {
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	if sess.State() != sessions.StateReady {
		e.log.InfoContext(ctx, "engine.handle_notification.dropped")
		return
	}

	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.DebugContext(ctx, "engine.session.initialized")
	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := decodeParams(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		var rid jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &rid); err != nil || rid.IsNil() {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", "missing requestId"))
			return
		}
		reason := params.Reason
		if reason == "" {
			reason = "cancelled by client"
		}
		had := sess.invocations.cancel(rid.String(), reason)
		e.log.InfoContext(ctx, "engine.handle_notification.cancel",
			slog.String("request_id", rid.String()),
			slog.String("reason", reason),
			slog.Bool("had_cancel", had))
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

// HandleClientResponse records a response sent by the client. The server
// never issues requests, so responses are logged and dropped.
func (e *Engine) HandleClientResponse(ctx context.Context, sess *SessionHandle, res *jsonrpc.Response) {
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	e.log.InfoContext(ctx, "engine.handle_response.ignored", slog.String("id", res.ID.String()))
}

// CloseSession moves the session to its terminal state and abandons every
// pending invocation. It is idempotent.
func (e *Engine) CloseSession(ctx context.Context, sess *SessionHandle, reason string) {
	if !sess.markClosed() {
		return
	}
	abandoned := sess.invocations.closeAll(reason)
	ctx = logctx.WithSessionData(ctx, logctx.SessionDataFrom(sess))
	e.log.InfoContext(ctx, "engine.session.closed", slog.String("reason", reason), slog.Int("abandoned", abandoned))
}

// registerListChangedEmitters wires the tools listChanged capability to emit
// notifications for the session until it closes.
func (e *Engine) registerListChangedEmitters(ctx context.Context, sess *SessionHandle) {
	// Outlive the initialize request while keeping its values for logging.
	bg, stop := context.WithCancel(context.WithoutCancel(ctx))
	sess.setEmitterStop(stop)

	toolsCap, ok, err := e.srv.GetToolsCapability(bg, sess)
	if err != nil || !ok || toolsCap == nil {
		return
	}
	lc, hasLC, err := toolsCap.GetListChangedCapability(bg, sess)
	if err != nil || !hasLC || lc == nil {
		return
	}
	if _, err := lc.Register(bg, sess, func(cbCtx context.Context, s sessions.Session) {
		note, err := jsonrpc.NewNotification(string(mcp.ToolsListChangedNotificationMethod), nil)
		if err != nil {
			e.log.ErrorContext(bg, "engine.emitter.encode.fail", slog.String("err", err.Error()))
			return
		}
		if err := sess.send(bg, note); err != nil && !errors.Is(err, ErrSessionClosed) {
			e.log.ErrorContext(bg, "engine.emitter.publish.fail", slog.String("err", err.Error()))
		}
	}); err != nil {
		e.log.ErrorContext(bg, "engine.emitter.register.fail", slog.String("err", err.Error()))
	}
}

// progressReporter emits notifications/progress for one request.
type progressReporter struct {
	sess  *SessionHandle
	token mcp.ProgressToken
}

func (p *progressReporter) Report(ctx context.Context, progress, total float64) error {
	note, err := jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), mcp.ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      progress,
		Total:         total,
	})
	if err != nil {
		return err
	}
	return p.sess.send(ctx, note)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func fieldDetails(fe validation.FieldError) map[string]any {
	return map[string]any{"errors": []validation.FieldError{fe}}
}
