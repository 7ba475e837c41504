package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/ggoodman/mcp-coffee-shop/mcp"
)

// negotiateVersion applies the revision policy to the version a client
// requested. A configured preferred revision wins when it does not exceed
// the negotiated one.
func (e *Engine) negotiateVersion(ctx context.Context, requested string) (string, *Error) {
	negotiated, err := mcp.NegotiateProtocolVersion(requested)
	if err != nil {
		perr := newError(KindProtocolMismatch, "unsupported protocol version", map[string]any{
			"requested": requested,
			"supported": slices.Clone(mcp.SupportedProtocolVersions),
		})
		perr.err = errors.Join(ErrProtocolMismatch, err)
		return "", perr
	}

	preferred, ok, err := e.srv.GetPreferredProtocolVersion(ctx, negotiated)
	switch {
	case err != nil:
		e.log.WarnContext(ctx, "engine.negotiate.preferred.fail", slog.String("err", err.Error()))
	case ok && preferred != "" && mcp.IsSupportedProtocolVersion(preferred) &&
		mcp.CompareProtocolVersions(preferred, negotiated) <= 0:
		negotiated = preferred
	}
	return negotiated, nil
}
