package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/mcp-coffee-shop/internal/engine"
	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
	"github.com/ggoodman/mcp-coffee-shop/mcpservice"
)

const (
	// DefaultMaxMessageBytes is the default cap on a single inbound frame.
	DefaultMaxMessageBytes = 4 << 20

	defaultShutdownGrace = 5 * time.Second

	// recoverPrefixBytes is how much of an oversized frame is kept for
	// request id recovery.
	recoverPrefixBytes = 64 << 10
)

var (
	// ErrAlreadyServed is returned when Serve is called a second time.
	ErrAlreadyServed = errors.New("stdio: handler already served")

	errFrameTooLarge = errors.New("message exceeds maximum size")
)

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the
// protocol engine built around the provided mcpservice.ServerCapabilities.
type Handler struct {
	srv mcpservice.ServerCapabilities

	r io.Reader
	w io.Writer
	l *slog.Logger

	sequential      bool
	maxMessageBytes int
	shutdownGrace   time.Duration

	served atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:             srv,
		r:               os.Stdin,
		w:               os.Stdout,
		l:               slog.Default(),
		maxMessageBytes: DefaultMaxMessageBytes,
		shutdownGrace:   defaultShutdownGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// frame is one line read from the input stream, without its terminator.
type frame struct {
	data      []byte
	oversized bool
	err       error
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
//
// Serve returns nil when the reader reaches EOF. It returns an error wrapping
// engine.ErrProtocolMismatch when the client asks for an unsupported protocol
// revision, and one wrapping engine.ErrTransport when reading or writing
// fails. When ctx is canceled it returns ctx's error.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	wm := &writeMux{w: h.w, onFail: func(err error) {
		cancel(fmt.Errorf("%w: write: %w", engine.ErrTransport, err))
	}}
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))
	sess := eng.NewSession(wm)

	log := h.l.With(slog.String("session_id", sess.SessionID()))
	log.InfoContext(ctx, "stdio.serve.start", slog.Bool("sequential", h.sequential), slog.Int("max_message_bytes", h.maxMessageBytes))

	frames := make(chan frame)
	go h.readLoop(ctx, frames)

	var (
		g        errgroup.Group
		serveErr error
		reason   string
	)

loop:
	for {
		select {
		case <-ctx.Done():
			reason = "context done"
			serveErr = context.Cause(ctx)
			break loop
		case fr := <-frames:
			if fr.err != nil {
				if errors.Is(fr.err, io.EOF) {
					reason = "eof"
					break loop
				}
				reason = "read error"
				serveErr = fmt.Errorf("%w: read: %w", engine.ErrTransport, fr.err)
				break loop
			}
			if err := h.handleFrame(ctx, eng, sess, wm, &g, fr); err != nil {
				reason = "fatal"
				serveErr = err
				break loop
			}
		}
	}

	eng.CloseSession(ctx, sess, reason)
	wm.close()
	cancel(nil)
	h.drain(ctx, &g, log)

	if serveErr != nil {
		log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", reason), slog.String("err", serveErr.Error()))
		return serveErr
	}
	log.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", reason))
	return nil
}

// drain waits for in-flight tool calls to observe cancellation, bounded by
// the shutdown grace period.
func (h *Handler) drain(ctx context.Context, g *errgroup.Group, log *slog.Logger) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(h.shutdownGrace):
		log.WarnContext(ctx, "stdio.serve.drain_timeout", slog.Duration("grace", h.shutdownGrace))
	}
}

func (h *Handler) handleFrame(ctx context.Context, eng *engine.Engine, sess *engine.SessionHandle, wm *writeMux, g *errgroup.Group, fr frame) error {
	var (
		msg *jsonrpc.AnyMessage
		err error
	)
	if fr.oversized {
		err = errFrameTooLarge
	} else {
		msg, err = jsonrpc.Decode(fr.data)
	}
	if err != nil {
		id, ok := jsonrpc.RecoverRequestID(fr.data)
		if !ok {
			h.l.WarnContext(ctx, "stdio.read.malformed", slog.String("err", err.Error()), slog.Int("bytes", len(fr.data)), slog.Bool("oversized", fr.oversized))
			return nil
		}
		h.l.InfoContext(ctx, "stdio.read.parse_error", slog.String("err", err.Error()), slog.String("id", id.String()))
		return h.writeResponse(ctx, wm, engine.NewParseError(err).Response(id))
	}

	switch msg.Type() {
	case "request":
		req := msg.AsRequest()
		res, call, fatal := eng.Accept(ctx, sess, req)
		if res != nil {
			if err := h.writeResponse(ctx, wm, res); err != nil {
				return err
			}
		}
		if fatal != nil {
			return fatal
		}
		if call == nil {
			return nil
		}
		if h.sequential {
			return h.writeResponse(ctx, wm, call.Run())
		}
		g.Go(func() error {
			// Write failures cancel Serve through the writeMux.
			_ = h.writeResponse(ctx, wm, call.Run())
			return nil
		})
	case "notification":
		eng.HandleNotification(ctx, sess, msg.AsRequest())
	default:
		eng.HandleClientResponse(ctx, sess, msg.AsResponse())
	}
	return nil
}

func (h *Handler) writeResponse(ctx context.Context, wm *writeMux, res *jsonrpc.Response) error {
	if res == nil {
		return nil
	}
	b, err := jsonrpc.Encode(res)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.encode_fail", slog.String("err", err.Error()))
		fallback := jsonrpc.NewErrorResponse(res.ID, jsonrpc.ErrorCodeInternalError, "internal error", engine.ErrorData{Kind: engine.KindInternalError})
		if b, err = jsonrpc.Encode(fallback); err != nil {
			return nil
		}
	}
	if err := wm.WriteMessage(ctx, b); err != nil && !errors.Is(err, errWriterClosed) {
		return err
	}
	return nil
}

// readLoop frames the input stream and hands each frame to Serve. It exits
// after delivering an error (EOF included) or when ctx is done.
func (h *Handler) readLoop(ctx context.Context, out chan<- frame) {
	br := bufio.NewReader(h.r)
	for {
		data, oversized, err := readFrame(br, h.maxMessageBytes)
		if err == nil && !oversized && len(data) == 0 {
			continue
		}
		select {
		case out <- frame{data: data, oversized: oversized, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// readFrame reads one newline-terminated line. A trailing carriage return is
// stripped and whitespace-only lines come back empty. Lines longer than limit
// are consumed in full but only a bounded prefix is returned, flagged as
// oversized. A final line without a terminator is returned before io.EOF.
func readFrame(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		buf       []byte
		oversized bool
		total     int
	)
	for {
		chunk, err := br.ReadSlice('\n')
		total += len(chunk)
		if !oversized && (total-1 > limit || (err != nil && total > limit)) {
			oversized = true
		}
		if oversized {
			if room := recoverPrefixBytes - len(buf); room > 0 {
				buf = append(buf, chunk[:min(room, len(chunk))]...)
			}
		} else {
			buf = append(buf, chunk...)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (!errors.Is(err, io.EOF) || total == 0) {
			return nil, false, err
		}
		return trimFrame(buf), oversized, nil
	}
}

func trimFrame(b []byte) []byte {
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '\n', '\r', ' ', '\t':
			b = b[:len(b)-1]
			continue
		}
		break
	}
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

var errWriterClosed = errors.New("stdio: writer closed")

// writeMux serializes frames onto the output stream: each message is written
// with its newline in a single Write call. After the first failure nothing
// else is written.
type writeMux struct {
	mu     sync.Mutex
	w      io.Writer
	err    error
	closed bool
	onFail func(error)
}

func (m *writeMux) WriteMessage(_ context.Context, msg jsonrpc.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.closed {
		return errWriterClosed
	}
	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')
	if _, err := m.w.Write(line); err != nil {
		m.err = fmt.Errorf("%w: %w", engine.ErrTransport, err)
		if m.onFail != nil {
			m.onFail(err)
		}
		return m.err
	}
	return nil
}

func (m *writeMux) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
