package mcpservice

import (
	"context"
	"sync"

	"github.com/ggoodman/mcp-coffee-shop/sessions"
)

// ChangeSubscriber hands out channels that receive a value whenever the thing
// behind it changes. A closed channel means no further changes will follow.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// ChangeNotifier is an in-process fan-out of change signals. The zero value
// is ready to use.
//
// Signals coalesce: a subscriber that has not consumed the previous signal
// sees one signal, not two. Notify never blocks on a slow subscriber.
type ChangeNotifier struct {
	mu     sync.Mutex
	subs   []chan struct{}
	closed bool
}

// Subscriber registers a new listener. After Close it returns an already
// closed channel.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.subs = append(cn.subs, ch)
	return ch
}

// Notify signals every listener. It returns ctx.Err() without signalling when
// ctx is already done.
func (cn *ChangeNotifier) Notify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cn.mu.Lock()
	defer cn.mu.Unlock()
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close closes every listener channel. Later calls to Notify do nothing.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	for _, ch := range cn.subs {
		close(ch)
	}
	cn.subs = nil
}

// listChangedFromSubscriber turns a ChangeSubscriber into the listChanged
// capability the engine registers per session.
type listChangedFromSubscriber struct{ sub ChangeSubscriber }

func (l listChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (bool, error) {
	if l.sub == nil || fn == nil {
		return false, nil
	}
	ch := l.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session)
			}
		}
	}()
	return true, nil
}
