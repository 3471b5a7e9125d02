package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
//
// Events are debounced so an editor save that emits several writes causes a
// single reload. Content identical to the last applied file is skipped. A
// file that fails to parse or validate is reported to the error handler and
// the previous config stays active.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	onError  func(error)
	logger   *slog.Logger

	// applied is the content of the last config handed to onChange.
	applied []byte
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithErrorHandler receives every failed reload.
func WithErrorHandler(fn func(error)) WatchOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a Watcher for path that calls onChange with every
// successfully reloaded config.
func NewWatcher(path string, onChange func(*Config), opts ...WatchOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "config", "path", path)
	return w
}

// Run watches the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	initial, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("config watch: read %q: %w", w.path, err)
	}
	w.applied = initial

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		return fmt.Errorf("config watch: add %q: %w", w.path, err)
	}
	w.logger.Info("config: watching for changes")

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
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()
			// An atomic save replaces the inode and drops the old watch.
			_ = fsw.Add(w.path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.fail(fmt.Errorf("config watch: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.fail(fmt.Errorf("config reload: read %q: %w", w.path, err))
		return
	}
	if bytes.Equal(data, w.applied) {
		w.logger.Debug("config: unchanged, reload skipped")
		return
	}

	cfg, err := Parse(data)
	if err != nil {
		w.fail(fmt.Errorf("config reload: %w", err))
		return
	}

	w.applied = data
	w.logger.Info("config: reloaded")
	w.onChange(cfg)
}

func (w *Watcher) fail(err error) {
	w.logger.Error("config: reload failed, keeping previous config", "err", err)
	if w.onError != nil {
		w.onError(err)
	}
}
