package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of events editors produce per save.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the registry whenever its backing file changes. An invalid
// rewrite is logged and ignored; the last good document stays active. The
// watcher stops when ctx is canceled. onReload, if non-nil, runs after each
// successful reload.
func (r *Registry) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: atomic rewrites replace the inode
	// and a file-level watch would go stale after the first save.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		var pendingC <-chan time.Time
		target := filepath.Clean(r.path)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(debounceWindow)
					pendingC = pending.C
				} else {
					pending.Reset(debounceWindow)
				}
			case <-pendingC:
				pending = nil
				pendingC = nil
				if err := r.Load(); err != nil {
					r.logger.Printf("registry reload failed, keeping previous configuration: %v", err)
					continue
				}
				if onReload != nil {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Printf("registry watcher: %v", err)
			}
		}
	}()
	return nil
}
