package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

const (
	defaultRefreshInterval = 2 * time.Second
	warmTimeout            = 3 * time.Second
)

// Reader is the part of the coordinator the refresher drives.
type Reader interface {
	Get(ctx context.Context, path string) (state.Entry, bool)
	Ls(ctx context.Context, prefix string) (state.Entry, bool)
}

// StartRefresher launches a background goroutine that reads every key at a
// fixed cadence. Each read lets the coordinator decide whether a pull is
// due, so fresh or push-covered entries cost nothing. The returned channel
// closes once ctx is done and the loop has exited.
func StartRefresher(ctx context.Context, r Reader, keys []string, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("refresher")
	if len(keys) == 0 {
		keys = []string{heedy.RootList}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			touch(ctx, r, keys, log)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}

func touch(ctx context.Context, r Reader, keys []string, log *zap.Logger) {
	for _, k := range keys {
		if ctx.Err() != nil {
			return
		}
		var e state.Entry
		if heedy.ValidatePath(k) == nil {
			e, _ = r.Get(ctx, k)
		} else {
			e, _ = r.Ls(ctx, k)
		}
		if e.Value.IsError() {
			log.Debug("cached error", zap.String("path", k), zap.String("error", e.Value.Err.Name))
		}
	}
}

// warm fetches every watched key and waits for the results, so the first
// UI frame has data when the server is reachable.
func (a *App) warm(ctx context.Context) {
	keys := a.watch
	if len(keys) == 0 {
		keys = []string{heedy.RootList}
	}
	for _, k := range keys {
		if heedy.ValidatePath(k) == nil {
			a.Get(ctx, k)
		} else {
			a.Ls(ctx, k)
		}
	}
}
