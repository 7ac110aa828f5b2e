package ui

import (
	"context"
	"log/slog"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"
)

// ThemeWatcher follows OS appearance changes while the theme is set to
// "system". Events arrive on ChangeChannel as the new dark-mode state.
type ThemeWatcher struct {
	changeCh  chan bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewThemeWatcher starts watching for OS theme changes. Returns nil when the
// platform has no watchable appearance source, in which case the caller just
// keeps the theme it resolved at startup.
func NewThemeWatcher(parentCtx context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)
	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Debug("theme_watch_unavailable", slog.Any("error", err))
		return nil
	}

	tw := &ThemeWatcher{
		changeCh: make(chan bool, 1),
		closeCh:  make(chan struct{}),
	}
	go tw.watchLoop(ctx, cancel, events, errs)
	return tw
}

func (tw *ThemeWatcher) watchLoop(ctx context.Context, cancel context.CancelFunc, events <-chan bool, errs <-chan error) {
	defer cancel()
	for {
		select {
		case isDark, ok := <-events:
			if !ok {
				return
			}
			// Drop the event rather than block if the UI is busy
			select {
			case tw.changeCh <- isDark:
			default:
			}
		case err, ok := <-errs:
			if !ok {
				// A nil channel blocks forever, keeping the select quiet
				errs = nil
				continue
			}
			if err != nil {
				uiLog.Warn("theme_watch_error", slog.Any("error", err))
			}
		case <-tw.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ChangeChannel delivers dark-mode transitions. The channel is never closed
// by the watcher while it is running.
func (tw *ThemeWatcher) ChangeChannel() <-chan bool {
	return tw.changeCh
}

// Close stops the watcher. Safe to call more than once.
func (tw *ThemeWatcher) Close() {
	tw.closeOnce.Do(func() {
		close(tw.closeCh)
	})
}
