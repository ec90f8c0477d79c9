package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes expired entries and reports how many were evicted.
type Sweeper interface {
	Sweep() int
}

// CacheSweepWorker periodically evicts expired retrieval cache entries.
type CacheSweepWorker struct {
	cache    Sweeper
	interval time.Duration
}

// NewCacheSweepWorker creates a worker sweeping the cache on the given interval.
func NewCacheSweepWorker(cache Sweeper, interval time.Duration) *CacheSweepWorker {
	return &CacheSweepWorker{
		cache:    cache,
		interval: interval,
	}
}

// Run starts the worker loop. Respects context cancellation for graceful shutdown.
func (w *CacheSweepWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "cache-sweep",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "cache-sweep",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			evicted := w.cache.Sweep()
			if evicted > 0 {
				slog.Debug("cache sweep completed",
					"component", "worker",
					"action", "cache_sweep",
					"evicted", evicted,
				)
			}
		}
	}
}
