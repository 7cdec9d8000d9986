package datasource

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the registry whenever its file changes on disk and calls
// onChange with the ids whose entries changed or disappeared. It blocks
// until ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func(changed []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory, not the file
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}

	target := filepath.Clean(r.path)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			// Debounce
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				changed, err := r.reload()
				if err != nil {
					r.logger.Error("failed to reload data sources", "error", err)
					return
				}
				r.logger.Info("data sources reloaded", "changed", len(changed))
				if len(changed) > 0 && onChange != nil {
					onChange(changed)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher error", "error", err)
		}
	}
}

// reload re-reads the file and reports ids that changed or were removed
func (r *Registry) reload() ([]string, error) {
	before := r.GetAll()
	if err := r.Load(); err != nil {
		return nil, err
	}
	after := r.GetAll()

	next := make(map[string]int, len(after))
	for i, ds := range after {
		next[ds.ID] = i
	}

	var changed []string
	for _, old := range before {
		i, ok := next[old.ID]
		if !ok || after[i] != old {
			changed = append(changed, old.ID)
		}
	}
	return changed, nil
}
