package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-coffee-shop/internal/engine"
	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
	"github.com/google/go-cmp/cmp"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t        *testing.T
	ctx      context.Context
	cancel   context.CancelFunc
	stdinW   *io.PipeWriter
	stdoutR  *bufio.Scanner
	outMu    sync.Mutex
	lines    []string
	serveErr chan error
}

var defaultProtocolVersion = mcp.LatestProtocolVersion

func defaultInitializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		ProtocolVersion: defaultProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
		Capabilities:    mcp.ClientCapabilities{Sampling: &struct{}{}},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, srv mcpservice.ServerCapabilities, opts ...Option) *testHarness {
	t.Helper()

	// wire stdio via io.Pipe
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	opts = append([]Option{WithIO(inR, outW), WithLogger(testLogger())}, opts...)
	h := NewHandler(srv, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, ctx: ctx, cancel: cancel, stdinW: inW, stdoutR: bufio.NewScanner(outR), serveErr: make(chan error, 1)}

	go func() {
		th.serveErr <- h.Serve(ctx)
	}()

	// start stdout collector
	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// send writes a JSON-RPC request (as marshalled JSON + newline) to stdin.
func (th *testHarness) send(req *jsonrpc.Request) {
	th.t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		th.t.Fatalf("marshal request: %v", err)
	}
	th.sendRaw(string(b))
}

func (th *testHarness) sendRaw(line string) {
	th.t.Helper()
	if _, err := th.stdinW.Write([]byte(line + "\n")); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) call(id any, method string, params any) {
	th.t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		req.Params = mustJSON(th.t, params)
	}
	th.send(req)
}

func (th *testHarness) notify(method string, params any) {
	th.t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method}
	if params != nil {
		req.Params = mustJSON(th.t, params)
	}
	th.send(req)
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse(timeout time.Duration) *jsonrpc.Response {
	th.t.Helper()
	line, err := th.nextLine(timeout)
	if err != nil {
		th.t.Fatal(err)
	}
	var any jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &any); err != nil {
		th.t.Fatalf("decode %q: %v", line, err)
	}
	if any.Type() != "response" {
		th.t.Fatalf("expected response, got %s: %s", any.Type(), line)
	}
	return any.AsResponse()
}

func (th *testHarness) expectNoOutput(wait time.Duration) {
	th.t.Helper()
	if line, err := th.nextLine(wait); err == nil {
		th.t.Fatalf("unexpected output: %s", line)
	}
}

func (th *testHarness) expectServeResult(timeout time.Duration) error {
	th.t.Helper()
	select {
	case err := <-th.serveErr:
		return err
	case <-time.After(timeout):
		th.t.Fatalf("Serve did not return")
		return nil
	}
}

func (th *testHarness) initialize(t *testing.T, id string, req mcp.InitializeRequest) *mcp.InitializeResult {
	t.Helper()
	th.call(id, string(mcp.InitializeMethod), req)

	res := th.expectResponse(time.Second)
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	th.notify(string(mcp.InitializedNotificationMethod), nil)
	return &initRes
}

func errorKind(t *testing.T, res *jsonrpc.Response) (engine.Kind, map[string]any) {
	t.Helper()
	if res.Error == nil {
		t.Fatalf("expected error response, got result %s", res.Result)
	}
	b, _ := json.Marshal(res.Error.Data)
	var data struct {
		Kind    engine.Kind    `json:"kind"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(b, &data); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	return data.Kind, data.Details
}

type orderArgs struct {
	Drink string `json:"drink" jsonschema:"required"`
	Size  string `json:"size,omitempty" jsonschema:"enum=small,enum=medium,enum=large"`
}

func orderCoffeeTool() mcpservice.StaticTool {
	return mcpservice.NewTool[orderArgs]("order_coffee", func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[orderArgs]) error {
		return w.AppendText("ordered " + r.Args().Drink)
	}, mcpservice.WithToolDescription("Order a coffee"))
}

func newServer(t *testing.T, tools ...mcpservice.StaticTool) mcpservice.ServerCapabilities {
	t.Helper()
	tc, err := mcpservice.NewToolsContainer(tools...)
	if err != nil {
		t.Fatalf("NewToolsContainer: %v", err)
	}
	return mcpservice.NewServer(
		mcpservice.WithServerInfo(mcpservice.StaticServerInfo("test", "1.0.0")),
		mcpservice.WithInstructions(mcpservice.StaticInstructions("Have fun!")),
		mcpservice.WithToolsCapability(tc),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(&slog.LevelVar{})),
	)
}

// --- Tests ---

func TestInitialize_HappyPath(t *testing.T) {
	th := newHarness(t, newServer(t, orderCoffeeTool()))

	initRes := th.initialize(t, "init-1", defaultInitializeRequest())
	if initRes.ProtocolVersion != defaultProtocolVersion {
		t.Fatalf("server protocol version mismatch: %s", initRes.ProtocolVersion)
	}
	if initRes.ServerInfo.Name != "test" {
		t.Fatalf("server info missing")
	}
	if initRes.Instructions != "Have fun!" {
		t.Fatalf("instructions = %q", initRes.Instructions)
	}
	if initRes.Capabilities.Tools == nil {
		t.Fatalf("tools capability not advertised")
	}
}

func TestScenarioA_EmptyRegistry(t *testing.T) {
	th := newHarness(t, newServer(t))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call(1, string(mcp.ToolsListMethod), nil)
	res := th.expectResponse(time.Second)
	if res.Error != nil {
		t.Fatalf("list error: %+v", res.Error)
	}
	if diff := cmp.Diff(`{"tools":[]}`, string(res.Result)); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestToolsList_Idempotent(t *testing.T) {
	refund := mcpservice.NewTool[struct{}]("refund", func(context.Context, sessions.Session, mcpservice.ToolResponseWriter, *mcpservice.ToolRequest[struct{}]) error {
		return nil
	})
	th := newHarness(t, newServer(t, orderCoffeeTool(), refund))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call(1, string(mcp.ToolsListMethod), nil)
	first := th.expectResponse(time.Second)
	th.call(2, string(mcp.ToolsListMethod), nil)
	second := th.expectResponse(time.Second)
	if first.Error != nil || second.Error != nil {
		t.Fatalf("list errors: %+v / %+v", first.Error, second.Error)
	}

	var listed mcp.ListToolsResult
	if err := json.Unmarshal(first.Result, &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Tools) != 2 || listed.Tools[0].Name != "order_coffee" || listed.Tools[1].Name != "refund" {
		t.Fatalf("tools = %+v", listed.Tools)
	}
	if diff := cmp.Diff(string(first.Result), string(second.Result)); diff != "" {
		t.Fatalf("second listing differs (-first +second):\n%s", diff)
	}
}

func TestScenarioB_OrderCoffee(t *testing.T) {
	th := newHarness(t, newServer(t, orderCoffeeTool()))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call(1, string(mcp.ToolsCallMethod), map[string]any{"name": "order_coffee", "arguments": map[string]any{"drink": "latte"}})
	res := th.expectResponse(time.Second)
	if res.Error != nil {
		t.Fatalf("call error: %+v", res.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "ordered latte"}}, result.Content); diff != "" {
		t.Fatalf("content mismatch (-want +got):\n%s", diff)
	}

	th.call(2, string(mcp.ToolsCallMethod), map[string]any{"name": "order_coffee", "arguments": map[string]any{}})
	res = th.expectResponse(time.Second)
	kind, details := errorKind(t, res)
	if kind != engine.KindInvalidArguments {
		t.Fatalf("kind = %s", kind)
	}
	errs, _ := details["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %+v", details)
	}
	fe, _ := errs[0].(map[string]any)
	if fe["path"] != "drink" || fe["expected"] != "string" {
		t.Fatalf("field error = %+v", fe)
	}
}

func TestScenarioC_ResponsesCorrelate(t *testing.T) {
	release := make(chan struct{})
	slow := mcpservice.NewTool[struct{}]("slow", func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return w.AppendText("slow")
	})
	th := newHarness(t, newServer(t, orderCoffeeTool(), slow))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call(1, string(mcp.ToolsCallMethod), map[string]any{"name": "slow"})
	th.call(2, string(mcp.ToolsCallMethod), map[string]any{"name": "order_coffee", "arguments": map[string]any{"drink": "mocha"}})

	first := th.expectResponse(time.Second)
	close(release)
	second := th.expectResponse(time.Second)

	// id 2 finishes first because id 1 is parked until released.
	if first.ID.String() != "2" || second.ID.String() != "1" {
		t.Fatalf("ids = %s, %s", first.ID, second.ID)
	}
	if first.Error != nil || second.Error != nil {
		t.Fatalf("errors = %+v, %+v", first.Error, second.Error)
	}
}

func TestSequential_PreservesOrder(t *testing.T) {
	th := newHarness(t, newServer(t, orderCoffeeTool()), WithSequential(true))
	th.initialize(t, "init", defaultInitializeRequest())

	for i := 1; i <= 3; i++ {
		th.call(i, string(mcp.ToolsCallMethod), map[string]any{"name": "order_coffee", "arguments": map[string]any{"drink": "latte"}})
	}
	for i := 1; i <= 3; i++ {
		res := th.expectResponse(time.Second)
		if got := res.ID.String(); got != fmt.Sprint(i) {
			t.Fatalf("response %d has id %s", i, got)
		}
	}
}

func TestScenarioD_BeforeHandshake(t *testing.T) {
	th := newHarness(t, newServer(t, orderCoffeeTool()))

	// notification before initialize is dropped
	th.notify(string(mcp.CancelledNotificationMethod), map[string]any{"requestId": 1})
	th.call(5, string(mcp.ToolsListMethod), nil)

	res := th.expectResponse(time.Second)
	if res.ID.String() != "5" {
		t.Fatalf("id = %s", res.ID)
	}
	if res.Error.Code != jsonrpc.ErrorCodeOutOfSequence {
		t.Fatalf("code = %d", res.Error.Code)
	}
	if kind, _ := errorKind(t, res); kind != engine.KindOutOfSequence {
		t.Fatalf("kind = %s", kind)
	}

	th.call(7, string(mcp.PingMethod), nil)
	res = th.expectResponse(time.Second)
	if res.ID.String() != "7" || res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeOutOfSequence {
		t.Fatalf("ping before initialize = %+v", res)
	}

	// the session is still handshaking, so initialize succeeds
	th.initialize(t, "init", defaultInitializeRequest())
}

func TestParseError(t *testing.T) {
	th := newHarness(t, newServer(t))
	th.initialize(t, "init", defaultInitializeRequest())

	th.sendRaw(`{"jsonrpc":"2.0","id":"bad-1","method":"tools/list",`)
	res := th.expectResponse(time.Second)
	if res.ID.String() != "bad-1" || res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("response = %+v", res)
	}

	th.sendRaw(`{"jsonrpc":"1.0","id":9,"method":"ping"}`)
	res = th.expectResponse(time.Second)
	if res.ID.String() != "9" || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("response = %+v", res)
	}

	// no id: dropped
	th.sendRaw(`not json at all`)
	th.sendRaw(``)
	th.sendRaw("   \r")
	th.call(10, string(mcp.PingMethod), nil)
	res = th.expectResponse(time.Second)
	if res.ID.String() != "10" || res.Error != nil {
		t.Fatalf("expected ping response, got %+v", res)
	}
}

func TestOversizedFrame(t *testing.T) {
	th := newHarness(t, newServer(t, orderCoffeeTool()), WithMaxMessageBytes(256))
	th.initialize(t, "init", defaultInitializeRequest())

	big := strings.Repeat("x", 1024)
	th.sendRaw(`{"jsonrpc":"2.0","id":77,"method":"tools/call","params":{"name":"order_coffee","arguments":{"drink":"` + big + `"}}}`)
	res := th.expectResponse(time.Second)
	if res.ID.String() != "77" || res.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("response = %+v", res)
	}

	// the stream is still in sync afterwards
	th.call(78, string(mcp.PingMethod), nil)
	if res := th.expectResponse(time.Second); res.ID.String() != "78" {
		t.Fatalf("id = %s", res.ID)
	}
}

func TestCancellation(t *testing.T) {
	started := make(chan struct{})
	slow := mcpservice.NewTool[struct{}]("slow", func(ctx context.Context, _ sessions.Session, _ mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx)
	})
	th := newHarness(t, newServer(t, slow))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call("brew-1", string(mcp.ToolsCallMethod), map[string]any{"name": "slow"})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("tool did not start")
	}
	th.notify(string(mcp.CancelledNotificationMethod), map[string]any{"requestId": "brew-1", "reason": "user abort"})

	res := th.expectResponse(time.Second)
	kind, details := errorKind(t, res)
	if kind != engine.KindInvocationError || details["cancelled"] != true || details["reason"] != "user abort" {
		t.Fatalf("kind = %s details = %+v", kind, details)
	}

	// unknown ids are ignored
	th.notify(string(mcp.CancelledNotificationMethod), map[string]any{"requestId": "nope"})
	th.expectNoOutput(50 * time.Millisecond)
}

func TestProgressNotifications(t *testing.T) {
	brew := mcpservice.NewTool[struct{}]("brew", func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
		_ = w.SendProgress(1, 2)
		_ = w.SendProgress(2, 2)
		return w.AppendText("brewed")
	})
	th := newHarness(t, newServer(t, brew))
	th.initialize(t, "init", defaultInitializeRequest())

	th.call(1, string(mcp.ToolsCallMethod), map[string]any{"name": "brew", "_meta": map[string]any{"progressToken": "p1"}})

	var progress []float64
	for {
		line, err := th.nextLine(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		var any jsonrpc.AnyMessage
		if err := json.Unmarshal([]byte(line), &any); err != nil {
			t.Fatal(err)
		}
		if any.Type() == "response" {
			break
		}
		var p mcp.ProgressNotificationParams
		if err := json.Unmarshal(any.Params, &p); err != nil {
			t.Fatal(err)
		}
		if p.ProgressToken != "p1" {
			t.Fatalf("progress token = %v", p.ProgressToken)
		}
		progress = append(progress, p.Progress)
	}
	if diff := cmp.Diff([]float64{1, 2}, progress); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestToolsListChanged(t *testing.T) {
	tc, err := mcpservice.NewToolsContainer(orderCoffeeTool())
	if err != nil {
		t.Fatal(err)
	}
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(tc))
	th := newHarness(t, srv)
	initRes := th.initialize(t, "init", defaultInitializeRequest())
	if !initRes.Capabilities.Tools.ListChanged {
		t.Fatalf("listChanged not advertised")
	}

	tc.Remove(context.Background(), "order_coffee")

	line, err := th.nextLine(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var note jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &note); err != nil {
		t.Fatal(err)
	}
	if note.Type() != "notification" || note.Method != string(mcp.ToolsListChangedNotificationMethod) {
		t.Fatalf("unexpected message: %s", line)
	}
}

func TestProtocolMismatch_EndsSession(t *testing.T) {
	th := newHarness(t, newServer(t))
	req := defaultInitializeRequest()
	req.ProtocolVersion = "1.0"
	th.call(1, string(mcp.InitializeMethod), req)

	res := th.expectResponse(time.Second)
	kind, details := errorKind(t, res)
	if kind != engine.KindProtocolMismatch || details["requested"] != "1.0" {
		t.Fatalf("kind = %s details = %+v", kind, details)
	}
	if err := th.expectServeResult(time.Second); !errors.Is(err, engine.ErrProtocolMismatch) {
		t.Fatalf("Serve err = %v", err)
	}
}

func TestEOF_ClosesCleanly(t *testing.T) {
	th := newHarness(t, newServer(t))
	th.initialize(t, "init", defaultInitializeRequest())
	_ = th.stdinW.Close()
	if err := th.expectServeResult(time.Second); err != nil {
		t.Fatalf("Serve err = %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFailure_IsTransportError(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")
	h := NewHandler(newServer(t), WithIO(in, failingWriter{}), WithLogger(testLogger()))
	err := h.Serve(context.Background())
	if !errors.Is(err, engine.ErrTransport) {
		t.Fatalf("Serve err = %v", err)
	}
	if err := h.Serve(context.Background()); !errors.Is(err, ErrAlreadyServed) {
		t.Fatalf("second Serve err = %v", err)
	}
}

func TestReadFrame(t *testing.T) {
	input := "one\r\n\n  two  \nthree-is-too-long\nlast"
	br := bufio.NewReaderSize(strings.NewReader(input), 16)

	type got struct {
		data      string
		oversized bool
	}
	var frames []got
	for {
		data, oversized, err := readFrame(br, 10)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, got{string(data), oversized})
	}
	want := []got{
		{"one", false},
		{"", false},
		{"two", false},
		{"three-is-too-long", true},
		{"last", false},
	}
	if diff := cmp.Diff(want, frames, cmp.AllowUnexported(got{})); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}
