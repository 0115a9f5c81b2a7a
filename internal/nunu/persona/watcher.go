package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor produces on save.
const DefaultDebounce = 400 * time.Millisecond

// Watcher reloads a Holder whenever its source file changes.
type Watcher struct {
	holder   *Holder
	debounce time.Duration
	onReload func(*Profile, error)

	fsw    *fsnotify.Watcher
	target string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching the Holder's source. The parent directory is watched
// rather than the file so that atomic rename-over saves are seen. onReload,
// if non-nil, is called from the watcher goroutine after every reload.
//
// The watcher stops when ctx is cancelled or Close is called.
func (h *Holder) Watch(ctx context.Context, debounce time.Duration, onReload func(*Profile, error)) (*Watcher, error) {
	if h.path == "" {
		return nil, ErrNoSource
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(h.path)
	if err != nil {
		return nil, fmt.Errorf("resolve persona path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create persona watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		holder:   h,
		debounce: debounce,
		onReload: onReload,
		fsw:      fsw,
		target:   abs,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run(ctx)
	slog.Info("watching persona file", "path", abs)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	err := w.fsw.Close()
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

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
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("persona watcher error", "err", err)

		case <-fire:
			fire = nil
			p, err := w.holder.Reload()
			if w.onReload != nil {
				w.onReload(p, err)
			}
		}
	}
}
