package ui

import (
	"context"
	"log/slog"

	dark "github.com/thiagokokada/dark-mode-go"
)

// WatchSystemTheme follows the OS dark-mode setting. It returns a channel
// that receives true for dark and false for light, plus a stop function.
// When detection is unavailable on this platform the channel is nil and the
// caller keeps the configured theme.
func WatchSystemTheme(parentCtx context.Context) (<-chan bool, func()) {
	ctx, cancel := context.WithCancel(parentCtx)

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Warn("theme_watch_unavailable", slog.String("error", err.Error()))
		return nil, func() {}
	}

	out := make(chan bool, 1)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case isDark, ok := <-events:
				if !ok {
					return
				}
				// Keep only the latest value if the UI is behind.
				select {
				case <-out:
				default:
				}
				out <- isDark
			case err, ok := <-errs:
				if ok && err != nil {
					uiLog.Warn("theme_watch_error", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return out, cancel
}
