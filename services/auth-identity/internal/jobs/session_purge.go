package jobs

import (
	"context"
	"log/slog"
	"time"
)

type SessionPurger interface {
	PurgeRefreshSessions(ctx context.Context, before time.Time) (int64, error)
}

// StartSessionPurgeJob deletes expired and revoked refresh sessions every
// interval until ctx ends. The returned channel closes when the loop exits.
func StartSessionPurgeJob(ctx context.Context, logger *slog.Logger, store SessionPurger, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if store == nil {
		logger.Warn("session purge job disabled: store not configured")
		close(done)
		return done
	}
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := 30 * time.Second
	if interval < timeout {
		timeout = interval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				purged, err := store.PurgeRefreshSessions(tickCtx, time.Now().UTC())
				cancel()
				if err != nil {
					logger.Error("session purge job error", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("session purge job removed sessions", "count", purged)
				}
			}
		}
	}()
	return done
}
