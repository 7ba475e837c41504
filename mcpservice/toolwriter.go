package mcpservice

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

// ErrFinalized is returned by writes that arrive after Result was called.
var ErrFinalized = errors.New("result already finalized")

// ToolResponseWriter accumulates the result of one tool call. Handlers may
// use it from several goroutines while the call is running.
type ToolResponseWriter interface {
	// AppendText adds a text block. Empty text is ignored. It fails with the
	// call's context error once the call is cancelled.
	AppendText(text string) error
	// SetError marks the result as a tool-level failure.
	SetError(isError bool)
	// SendProgress reports progress to the caller when it asked for it and
	// does nothing otherwise.
	SendProgress(progress, total float64) error
	// Result freezes the writer and returns what was written.
	Result() *mcp.CallToolResult
}

type toolResponseWriter struct {
	ctx context.Context

	mu      sync.Mutex
	done    bool
	content []mcp.ContentBlock
	isError bool
}

var _ ToolResponseWriter = (*toolResponseWriter)(nil)

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrFinalized
	}
	if text != "" {
		w.content = append(w.content, mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text})
	}
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	w.isError = isError
	w.mu.Unlock()
}

func (w *toolResponseWriter) SendProgress(progress, total float64) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	return ReportProgress(w.ctx, progress, total)
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	// never nil, so an empty result encodes as "content":[]
	content := append(make([]mcp.ContentBlock, 0, len(w.content)), w.content...)
	return &mcp.CallToolResult{Content: content, IsError: w.isError}
}
