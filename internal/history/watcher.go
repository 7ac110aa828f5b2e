package history

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/history-deck/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// Watcher keeps an index fresh by watching the sessions root for rollout
// file changes. Events are debounced so a burst of writes triggers one
// refresh, and refreshes are rate-limited to survive event storms during
// bulk imports.
//
// fsnotify watches are not recursive, so every directory under the root is
// added individually and new day directories are added as they appear.
type Watcher struct {
	root      string
	watcher   *fsnotify.Watcher
	onRefresh func()
	debounce  time.Duration
	limiter   *rate.Limiter
	ctx       context.Context
	cancel    context.CancelFunc
	pending   atomic.Bool
}

// NewWatcher creates a watcher for root. onRefresh runs after events settle.
func NewWatcher(root string, debounce time.Duration, maxRefreshPerSec int, onRefresh func()) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if maxRefreshPerSec <= 0 {
		maxRefreshPerSec = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		root:      root,
		watcher:   fsWatcher,
		onRefresh: onRefresh,
		debounce:  debounce,
		limiter:   rate.NewLimiter(rate.Limit(maxRefreshPerSec), 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start adds watches for the root and every directory under it, then begins
// the event loop. Fails when the root does not exist.
func (w *Watcher) Start() error {
	if _, err := os.Stat(w.root); err != nil {
		return fmt.Errorf("sessions root %s: %w", w.root, err)
	}
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.watchLoop()
	return nil
}

// Stop shuts down the event loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.cancel()
	return w.watcher.Close()
}

// addRecursive watches dir and all directories beneath it. Unreadable
// subdirectories are skipped like discovery skips them.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			watchLog.Warn("watch_add_failed",
				slog.String("dir", path),
				slog.Any("error", err))
		}
		return nil
	})
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			logging.Aggregate(logging.CompWatch, "fs_event")

			// Debounce: wait for activity to settle before refreshing
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watch_error", slog.Any("error", err))
		}
	}
}

// relevant filters events down to rollout files and new directories. A new
// directory is watched immediately so files landing in it are seen.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New day directory: watch it and everything already inside
			if err := w.addRecursive(event.Name); err != nil {
				watchLog.Warn("watch_add_failed",
					slog.String("dir", event.Name),
					slog.Any("error", err))
			}
			return true
		}
	}
	name := filepath.Base(event.Name)
	return strings.HasPrefix(name, rolloutPrefix) && strings.HasSuffix(name, rolloutSuffix)
}

// fire runs one refresh, respecting the rate limit. At most one refresh is
// queued behind the limiter; the queued run picks up any further changes
// because refresh always re-reads the filesystem.
func (w *Watcher) fire() {
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	defer w.pending.Store(false)

	if err := w.limiter.Wait(w.ctx); err != nil {
		return
	}
	watchLog.Debug("watch_refresh_triggered", slog.String("root", w.root))
	w.onRefresh()
}
