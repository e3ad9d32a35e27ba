// Package watch reports changes to a single input file.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events a single save produces.
const DefaultDebounce = 500 * time.Millisecond

// File watches the directory holding path, so editors that replace the file
// on save are still seen. Each settled burst of writes to path sends one value
// on the returned channel. The channel is closed when ctx is done or the
// watcher fails.
func File(ctx context.Context, path string, debounce time.Duration, logger zerolog.Logger) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, errors.New("failed to watch " + path + ": parent is not a directory")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer w.Close()

		var settle <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !relevant(ev, abs) {
					continue
				}
				logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("input changed")
				settle = time.After(debounce)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("watcher error")

			case <-settle:
				settle = nil
				select {
				case changes <- struct{}{}:
				default:
					// a change is already pending
				}
			}
		}
	}()
	return changes, nil
}

func relevant(ev fsnotify.Event, target string) bool {
	if filepath.Clean(ev.Name) != target {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}
