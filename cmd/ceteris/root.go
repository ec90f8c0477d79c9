package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceterislabs/ceteris/internal/api"
	"github.com/ceterislabs/ceteris/internal/cache"
	"github.com/ceterislabs/ceteris/internal/config"
	"github.com/ceterislabs/ceteris/internal/embedding"
	"github.com/ceterislabs/ceteris/internal/kb"
	"github.com/ceterislabs/ceteris/internal/prover"
	"github.com/ceterislabs/ceteris/internal/snapshot"
	"github.com/ceterislabs/ceteris/internal/worker"
	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/reason"
	"github.com/ceterislabs/ceteris/pkg/retrieval"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ceteris",
	Short: "Ceteris - context-aware reasoning service",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level, "format", cfg.Log.Format)

	// Knowledge base (migrations run on open).
	knowledge, err := kb.NewSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("knowledge base initialized", "path", cfg.Database.Path)

	// Exact prover, with optional rule preload.
	mangle := prover.NewMangle()
	if cfg.Reasoner.RulesPath != "" {
		if err := mangle.LoadRulesFile(cfg.Reasoner.RulesPath); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		slog.Info("rules loaded", "path", cfg.Reasoner.RulesPath)
	}

	contexts := ctxstore.NewStore()

	resultCache := cache.NewMemory()
	retriever := retrieval.New(knowledge, contexts, retrieval.Config{
		Cache:    resultCache,
		CacheTTL: time.Duration(cfg.Retrieval.CacheTTL),
		Weights: map[retrieval.Strategy]float64{
			retrieval.StrategyExactMatch:         cfg.Retrieval.ExactWeight,
			retrieval.StrategySemanticSimilarity: cfg.Retrieval.SemanticWeight,
			retrieval.StrategyTemporalRecency:    cfg.Retrieval.TemporalWeight,
			retrieval.StrategyHierarchical:       cfg.Retrieval.HierarchicalWeight,
		},
		MinRelevance: cfg.Retrieval.MinRelevance,
	})

	if cfg.Embedding.Enabled {
		embedder := embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.Model)
		retriever.RegisterRelevanceFunc("embedding", embedding.NewRelevanceFunc(embedder))
		slog.Info("embedding scorer registered", "model", cfg.Embedding.Model)
	}

	reasoner := defaults.NewReasoner(mangle, contexts)
	engine := reason.NewEngine(mangle, retriever, reasoner, contexts)

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return fmt.Errorf("snapshot storage: %w", err)
	}

	model := ""
	if cfg.Embedding.Enabled {
		model = cfg.Embedding.Model
	}
	handler := api.NewHandler(api.HandlerConfig{
		Contexts:  contexts,
		Retriever: retriever,
		Reasoner:  reasoner,
		Engine:    engine,
		Knowledge: knowledge,
		Rules:     mangle,
		Uploader:  uploader,
		APIKey:    cfg.Auth.APIKey,
		Version:   Version,
		Model:     model,
	})
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	snapshotWorker := worker.NewSnapshotWorker(contexts, uploader,
		cfg.Snapshot.Dir, time.Duration(cfg.Worker.SnapshotInterval))
	startWorker(ctx, &wg, "snapshot", snapshotWorker.Run)
	sweepWorker := worker.NewCacheSweepWorker(resultCache,
		time.Duration(cfg.Worker.CacheSweepInterval))
	startWorker(ctx, &wg, "cache-sweep", sweepWorker.Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error on graceful Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := knowledge.Close(); err != nil {
		slog.Error("knowledge base close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
		slog.Info("worker exited", "worker", name)
	}()
}
