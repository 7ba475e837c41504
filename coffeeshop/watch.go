package coffeeshop

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 100 * time.Millisecond

// WatchOption configures WatchMenu.
type WatchOption func(*watchOptions)

type watchOptions struct {
	log      *slog.Logger
	debounce time.Duration
}

// WithWatchLogger sets the logger used for reload events.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(o *watchOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithReloadDebounce sets how long the watcher waits for writes to settle
// before reloading. Zero reloads on every event.
func WithReloadDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d >= 0 {
			o.debounce = d
		}
	}
}

// WatchMenu reloads menu from path whenever the file changes, until ctx is
// done. The watch is in place when WatchMenu returns.
//
// The parent directory is watched rather than the file so that editors that
// save by writing a temporary file and renaming it over the original are
// still observed. A file that fails to load leaves the current menu in place.
// Reloads change prices and availability only; the tool descriptor is fixed.
func WatchMenu(ctx context.Context, menu *Menu, path string, opts ...WatchOption) error {
	o := watchOptions{log: slog.Default(), debounce: defaultReloadDebounce}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve menu path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create menu watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go runWatcher(ctx, w, menu, abs, o)
	return nil
}

func runWatcher(ctx context.Context, w *fsnotify.Watcher, menu *Menu, path string, o watchOptions) {
	defer func() {
		_ = w.Close()
	}()

	log := o.log.With(slog.String("path", path))
	log.InfoContext(ctx, "coffeeshop.menu.watch.start")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "coffeeshop.menu.watch.stop")
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if o.debounce == 0 {
				reloadMenu(ctx, log, menu, path)
				continue
			}
			if timer == nil {
				timer = time.NewTimer(o.debounce)
			} else {
				timer.Reset(o.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			reloadMenu(ctx, log, menu, path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WarnContext(ctx, "coffeeshop.menu.watch.error", slog.String("err", err.Error()))
		}
	}
}

func reloadMenu(ctx context.Context, log *slog.Logger, menu *Menu, path string) {
	start := time.Now()
	data, err := LoadMenuFile(path)
	if err == nil {
		err = menu.Replace(data)
	}
	if err != nil {
		log.WarnContext(ctx, "coffeeshop.menu.reload.fail", slog.String("err", err.Error()))
		return
	}
	log.InfoContext(ctx, "coffeeshop.menu.reload.ok",
		slog.Int("drinks", len(data.Drinks)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}
