package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches a config file and emits freshly validated configs on a
// channel. Reloads trigger on file changes (fsnotify) and on SIGHUP.
type Reloader struct {
	path      string
	updates   chan *Config
	done      chan struct{}
	closeOnce sync.Once
}

// NewReloader creates a reloader for the config at path. Watch must be
// called to begin watching.
func NewReloader(path string) *Reloader {
	return &Reloader{
		path:    path,
		updates: make(chan *Config, 1),
		done:    make(chan struct{}),
	}
}

// Changes returns the channel that receives each successfully reloaded
// config. Only the newest pending config is retained; stale ones are
// replaced before the consumer sees them.
func (r *Reloader) Changes() <-chan *Config {
	return r.updates
}

// Watch watches the config file and listens for SIGHUP. It blocks until ctx
// is cancelled or Close is called, then closes the Changes channel. A reload
// that fails to parse or validate is reported to stderr and the running
// config stays in effect.
func (r *Reloader) Watch(ctx context.Context) error {
	defer close(r.updates)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory rather than the file itself so rename-based saves
	// (vim, sed -i) keep being seen after the inode changes.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	baseName := filepath.Base(r.path)

	// Editors fire several events per save; coalesce them.
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(100 * time.Millisecond)
			}
		case <-debounce:
			r.reload()
			debounce = nil
		case <-sigCh:
			r.reload()
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; keep watching.
		}
	}
}

// reload loads and validates the config file, then publishes it. If a
// previous reload is still pending it is replaced, so the consumer always
// picks up the newest state.
func (r *Reloader) reload() {
	cfg, err := Load(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feedsim: config reload failed: %v\n", err)
		return
	}

	for {
		select {
		case r.updates <- cfg:
			return
		default:
		}
		select {
		case <-r.updates:
		default:
		}
	}
}

// Close stops the reloader. Safe to call multiple times.
func (r *Reloader) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
