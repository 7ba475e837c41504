package stdio

import (
	"io"
	"log/slog"
	"time"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(h *Handler) {
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithSequential makes the handler resolve every message, tool calls
// included, before reading the next one. By default tool calls run
// concurrently.
func WithSequential(sequential bool) Option {
	return func(h *Handler) { h.sequential = sequential }
}

// WithMaxMessageBytes caps the size of a single inbound frame. Non-positive
// values restore the default of 4 MiB.
func WithMaxMessageBytes(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessageBytes = n
		}
	}
}

// WithShutdownGrace bounds how long Serve waits for cancelled tool calls to
// return after the session closes. Their results are discarded either way.
func WithShutdownGrace(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.shutdownGrace = d
		}
	}
}
