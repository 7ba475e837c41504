package engine

import (
	"context"

	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
)

// MessageWriter delivers an encoded frame to the client. Transports provide
// one per session; implementations serialize concurrent writes.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}
