package task

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotCleaner prunes persisted snapshots alongside in-memory records.
type SnapshotCleaner interface {
	CleanupTaskSnapshots(ctx context.Context, maxAge time.Duration) (int, error)
}

// StartCleanupWorker runs a background goroutine that periodically drops
// finished task records older than maxAge from both trackers and, when a
// cleaner is given, from the persistent store.
func StartCleanupWorker(ctx context.Context, tracker *Tracker, stages *StageTracker, cleaner SnapshotCleaner, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("task cleanup worker started", "interval", interval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, tracker, stages, cleaner, maxAge)
			case <-ctx.Done():
				slog.Info("task cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, tracker *Tracker, stages *StageTracker, cleaner SnapshotCleaner, maxAge time.Duration) {
	removed := 0
	if tracker != nil {
		removed += tracker.CleanupOlderThan(maxAge)
	}
	if stages != nil {
		removed += stages.CleanupOlderThan(maxAge)
	}
	if removed > 0 {
		slog.Info("task cleanup removed records", "count", removed)
	}

	if cleaner == nil {
		return
	}
	if deleted, err := cleaner.CleanupTaskSnapshots(ctx, maxAge); err != nil {
		slog.Error("task cleanup failed to prune snapshots", "error", err)
	} else if deleted > 0 {
		slog.Info("task cleanup pruned snapshots", "count", deleted)
	}
}
