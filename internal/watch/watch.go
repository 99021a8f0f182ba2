// Package watch notifies on changes to the state database so status
// views can refresh without polling.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File invokes fn whenever path changes, debounced to at most one call
// per interval. SQLite in WAL mode touches sibling -wal and -shm
// files, so the parent directory is watched and events are filtered by
// prefix. Blocks until ctx is cancelled.
func File(ctx context.Context, path string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	prefix := filepath.Base(path)
	var pending bool
	debounce := time.NewTimer(interval)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if len(base) < len(prefix) || base[:len(prefix)] != prefix {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(interval)
			}
		case <-debounce.C:
			if pending {
				pending = false
				fn()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch error: %w", err)
		}
	}
}
