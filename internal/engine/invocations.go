package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-coffee-shop/internal/jsonrpc"
)

// ErrCancelled is the cause attached to an invocation's context when the
// client cancels it or the session closes underneath it.
var ErrCancelled = errors.New("request cancelled")

var errDuplicateRequestID = errors.New("request id already in flight")

type outcome string

const (
	outcomePending   outcome = "pending"
	outcomeSucceeded outcome = "succeeded"
	outcomeFailed    outcome = "failed"
	outcomeCancelled outcome = "cancelled"
)

// invocation is the bookkeeping for one accepted tools/call, from acceptance
// until its response is produced.
type invocation struct {
	id   *jsonrpc.RequestID
	key  string
	tool string
	args json.RawMessage

	cancel context.CancelCauseFunc

	mu      sync.Mutex
	outcome outcome
	reason  string
}

func (inv *invocation) settle(o outcome) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.outcome == outcomePending {
		inv.outcome = o
	}
}

func (inv *invocation) requestCancel(reason string) {
	inv.mu.Lock()
	if inv.reason == "" {
		inv.reason = reason
	}
	inv.mu.Unlock()
	inv.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
}

func (inv *invocation) cancelReason() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.reason
}

// invocationTable is a session's open-request table keyed by the canonical
// request id string.
type invocationTable struct {
	mu     sync.Mutex
	m      map[string]*invocation
	closed bool
}

func newInvocationTable() *invocationTable {
	return &invocationTable{m: make(map[string]*invocation)}
}

func (t *invocationTable) register(inv *invocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSessionClosed
	}
	if _, exists := t.m[inv.key]; exists {
		return errDuplicateRequestID
	}
	t.m[inv.key] = inv
	return nil
}

// remove drops inv from the table. It only removes the exact entry so that a
// late cleanup never evicts a newer invocation reusing the same id.
func (t *invocationTable) remove(inv *invocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.m[inv.key]; ok && cur == inv {
		delete(t.m, inv.key)
	}
}

// cancel requests cancellation of the invocation keyed by key. Unknown or
// completed ids are a no-op.
func (t *invocationTable) cancel(key, reason string) bool {
	t.mu.Lock()
	inv, ok := t.m[key]
	t.mu.Unlock()
	if !ok {
		return false
	}
	inv.requestCancel(reason)
	return true
}

// closeAll cancels every pending invocation and refuses further
// registrations. It returns the number of invocations abandoned.
func (t *invocationTable) closeAll(reason string) int {
	t.mu.Lock()
	t.closed = true
	pending := make([]*invocation, 0, len(t.m))
	for _, inv := range t.m {
		pending = append(pending, inv)
	}
	t.mu.Unlock()

	for _, inv := range pending {
		inv.requestCancel(reason)
	}
	return len(pending)
}

func (t *invocationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
