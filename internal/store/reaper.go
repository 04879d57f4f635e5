package store

import (
	"context"
	"log/slog"
	"time"
)

type expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Reaper periodically deletes expired job records from a store that does not
// expire keys on its own.
type Reaper struct {
	store    expirer
	interval time.Duration
}

func NewReaper(s expirer, interval time.Duration) *Reaper {
	return &Reaper{store: s, interval: interval}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.store.DeleteExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("reaping expired job records", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Debug("reaped expired job records", "count", n)
			}
		}
	}
}
