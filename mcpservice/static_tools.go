package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-coffee-shop/internal/validation"
	"github.com/ggoodman/mcp-coffee-shop/mcp"
	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input and request metadata.
// It is generic over the typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolResponseWriterTyped extends ToolResponseWriter for typed output tools.
// It allows setting a structuredContent value of type O.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

type toolResponseWriterTyped[O any] struct {
	ToolResponseWriter
	structured any // stored as concrete O; serialized at finalize
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) { tw.structured = v }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolTitle sets the human friendly title used in listings.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a writer-based tool with typed input A. It:
//   - Reflects a JSON Schema from A using invopop/jsonschema
//   - Down-converts it to MCP's simplified ToolInputSchema
//   - Wraps the handler with JSON decoding into A (rejecting unknown fields by default)
func NewTool[A any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := applyToolOptions(opts)
	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		a, errRes := decodeArgs[A](req.Arguments, cfg.allowAdditionalProperties)
		if errRes != nil {
			return errRes, nil
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// NewToolWithOutput constructs a typed-input, typed-output tool. The output
// type O is reflected into the descriptor's OutputSchema and the value set
// through SetStructured becomes the result's structuredContent.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, session sessions.Session, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := applyToolOptions(opts)
	outSchema := reflectToMCPOutputSchema[O]()
	desc := mcp.Tool{
		Name:         name,
		Title:        cfg.title,
		Description:  cfg.description,
		InputSchema:  reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
		OutputSchema: &outSchema,
	}
	handler := func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		a, errRes := decodeArgs[A](req.Arguments, cfg.allowAdditionalProperties)
		if errRes != nil {
			return errRes, nil
		}
		baseWriter := newToolResponseWriter(ctx)
		tw := &toolResponseWriterTyped[O]{ToolResponseWriter: baseWriter}
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, tw, r); err != nil {
			return nil, err
		}
		res := baseWriter.Result()
		if tw.structured != nil {
			m, err := toStructured(tw.structured)
			if err != nil {
				return nil, fmt.Errorf("encode structured content: %w", err)
			}
			res.StructuredContent = m
		}
		return res, nil
	}
	return StaticTool{Descriptor: desc, Handler: handler}
}

// TypedTool wraps a strongly typed args function into a StaticTool.
// It unmarshals req.Arguments into A and invokes fn.
func TypedTool[A any](desc mcp.Tool, fn func(ctx context.Context, session sessions.Session, args A) (*mcp.CallToolResult, error)) StaticTool {
	return StaticTool{
		Descriptor: desc,
		Handler: func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			a, errRes := decodeArgs[A](req.Arguments, true)
			if errRes != nil {
				return errRes, nil
			}
			return fn(ctx, session, a)
		},
	}
}

func applyToolOptions(opts []ToolOption) toolConfig {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// decodeArgs decodes arguments into A. Decode failures become an IsError
// result rather than a Go error, matching how tools report bad input.
func decodeArgs[A any](raw json.RawMessage, allowAdditional bool) (A, *mcp.CallToolResult) {
	var a A
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if !allowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&a); err != nil {
		return a, Errorf("invalid arguments: %v", err)
	}
	return a, nil
}

func toStructured(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToolsContainer owns a mutable, threadsafe, ordered set of tool descriptors
// and handlers. Listing preserves registration order.
//
// ToolsContainer also embeds a ChangeNotifier and implements ChangeSubscriber
// so the tools capability automatically exposes listChanged support.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool             // descriptors for listing, in order
	handlers map[string]ToolHandler // name -> handler

	notifier ChangeNotifier

	pageSize int // 0 lists everything in one page
}

// NewToolsContainer constructs a new ToolsContainer with the given tool
// definitions. It fails if any name is empty or duplicated, or if any input
// schema is malformed.
func NewToolsContainer(defs ...StaticTool) (*ToolsContainer, error) {
	st := &ToolsContainer{}
	tools, handlers, err := buildToolSet(defs)
	if err != nil {
		return nil, err
	}
	st.tools = tools
	st.handlers = handlers
	return st, nil
}

// ProvideTools makes *ToolsContainer satisfy ToolsCapabilityProvider. It always
// returns itself as the ToolsCapability with ok=true (present) even if it has
// zero tools; an empty container is a present-but-empty capability rather than
// an absent one.
func (st *ToolsContainer) ProvideTools(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	return st, true, nil
}

// SetPageSize enables pagination of ListTools. A non-positive value restores
// the default of listing everything in a single page.
func (st *ToolsContainer) SetPageSize(n int) {
	if n < 0 {
		n = 0
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// Replace atomically replaces the entire tool set. On error the container is
// left unchanged.
func (st *ToolsContainer) Replace(ctx context.Context, defs ...StaticTool) error {
	tools, handlers, err := buildToolSet(defs)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.tools = tools
	st.handlers = handlers
	st.mu.Unlock()
	st.notifyChanged()
	return nil
}

// Add registers a new tool at the end of the listing order.
func (st *ToolsContainer) Add(ctx context.Context, def StaticTool) error {
	desc, err := checkTool(def)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if _, exists := st.handlers[desc.Name]; exists {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrToolExists, desc.Name)
	}
	if st.handlers == nil {
		st.handlers = make(map[string]ToolHandler)
	}
	st.tools = append(st.tools, desc)
	st.handlers[desc.Name] = def.Handler
	st.mu.Unlock()
	st.notifyChanged()
	return nil
}

// Put registers def, replacing any tool of the same name in place so the
// listing order is kept. New names are appended.
func (st *ToolsContainer) Put(ctx context.Context, def StaticTool) error {
	desc, err := checkTool(def)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.handlers == nil {
		st.handlers = make(map[string]ToolHandler)
	}
	if _, exists := st.handlers[desc.Name]; exists {
		for i := range st.tools {
			if st.tools[i].Name == desc.Name {
				st.tools[i] = desc
				break
			}
		}
	} else {
		st.tools = append(st.tools, desc)
	}
	st.handlers[desc.Name] = def.Handler
	st.mu.Unlock()
	st.notifyChanged()
	return nil
}

// Remove removes a tool by name. Returns true if removed.
func (st *ToolsContainer) Remove(ctx context.Context, name string) bool {
	st.mu.Lock()
	n := 0
	removed := false
	for _, t := range st.tools {
		if t.Name == name {
			removed = true
			continue
		}
		st.tools[n] = t
		n++
	}
	if removed {
		st.tools = st.tools[:n]
		delete(st.handlers, name)
	}
	st.mu.Unlock()
	if removed {
		st.notifyChanged()
	}
	return removed
}

// Close stops change notifications; subscribers observe a closed channel.
func (st *ToolsContainer) Close() {
	st.notifier.Close()
}

// Subscriber implements ChangeSubscriber by returning a per-subscriber channel
// that receives a signal whenever the tool set changes.
func (st *ToolsContainer) Subscriber() <-chan struct{} {
	return st.notifier.Subscriber()
}

func (st *ToolsContainer) notifyChanged() {
	// best-effort; errors only indicate a closed notifier
	_ = st.notifier.Notify(context.Background())
}

// --- ToolsCapability implementation ---

// ListTools implements ToolsCapability.
func (st *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()

	if pageSize <= 0 {
		return NewPage(all), nil
	}

	start := parseCursor(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]mcp.Tool, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		next := fmt.Sprintf("%d", end)
		return NewPage(items, WithNextCursor[mcp.Tool](next)), nil
	}
	return NewPage(items), nil
}

// GetTool implements ToolsCapability.
func (st *ToolsContainer) GetTool(ctx context.Context, session sessions.Session, name string) (mcp.Tool, bool, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, t := range st.tools {
		if t.Name == name {
			return t, true, nil
		}
	}
	return mcp.Tool{}, false, nil
}

// CallTool implements ToolsCapability.
func (st *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, ErrEmptyToolName
	}
	st.mu.RLock()
	h := st.handlers[req.Name]
	st.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, session, req)
}

// GetListChangedCapability always returns support for listChanged.
func (st *ToolsContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ToolListChangedCapability, bool, error) {
	return listChangedFromSubscriber{sub: st}, true, nil
}

func buildToolSet(defs []StaticTool) ([]mcp.Tool, map[string]ToolHandler, error) {
	tools := make([]mcp.Tool, 0, len(defs))
	handlers := make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		desc, err := checkTool(d)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := handlers[desc.Name]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrToolExists, desc.Name)
		}
		tools = append(tools, desc)
		handlers[desc.Name] = d.Handler
	}
	return tools, handlers, nil
}

// checkTool validates a definition and returns its normalized descriptor.
func checkTool(def StaticTool) (mcp.Tool, error) {
	desc := def.Descriptor
	if desc.Name == "" {
		return mcp.Tool{}, ErrEmptyToolName
	}
	if def.Handler == nil {
		return mcp.Tool{}, fmt.Errorf("tool %s: nil handler", desc.Name)
	}
	if err := validation.ToolInputSchema(&desc.InputSchema); err != nil {
		return mcp.Tool{}, fmt.Errorf("%w: %s: %v", ErrInvalidToolSchema, desc.Name, err)
	}
	return desc, nil
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
