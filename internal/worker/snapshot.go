// Package worker contains the background loops that run alongside the
// HTTP server: periodic context document snapshots and cache sweeping.
package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ceterislabs/ceteris/internal/snapshot"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
)

// SnapshotWorker periodically serializes the context store to disk and
// uploads the document to snapshot storage when configured.
type SnapshotWorker struct {
	contexts *ctxstore.Store
	uploader snapshot.Uploader
	dir      string
	interval time.Duration
}

// NewSnapshotWorker creates a worker writing documents under dir.
func NewSnapshotWorker(contexts *ctxstore.Store, uploader snapshot.Uploader, dir string, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		contexts: contexts,
		uploader: uploader,
		dir:      dir,
		interval: interval,
	}
}

// Run starts the worker loop. Writes a snapshot immediately on start,
// then on each interval. Respects context cancellation for graceful shutdown.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "context-snapshot",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.writeSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "context-snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.writeSnapshot(ctx)
		}
	}
}

// writeSnapshot serializes the store and uploads the document, logging errors.
func (w *SnapshotWorker) writeSnapshot(ctx context.Context) {
	slog.Info("context snapshot started",
		"component", "worker",
		"action", "snapshot_start",
	)

	path := filepath.Join(w.dir, "current.json")
	if err := w.contexts.SaveFile(path); err != nil {
		slog.Warn("context snapshot failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	if err := w.uploader.Upload(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("context snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"error", err,
		)
	}
}
