// Recalld is a long-term memory daemon for AI agents.
//
// It ingests candidate memories with semantic deduplication, serves
// budget-aware scored retrieval, applies evidence-based corrections, and
// reclassifies storage tiers on a background schedule. State persists in an
// embedded chromem-go store; embeddings are computed locally via FastEmbed.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld
//
//	# Point at an explicit config file
//	recalld -config /etc/recalld/config.yaml
//
//	# Override any setting via environment
//	RECALLD_LOGGING_LEVEL=debug recalld
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embedding"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld            Start the memory daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld version    Show version information\n")
			os.Exit(1)
		}
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("recalld starting",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	embedder, closeEmbedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer closeEmbedder()

	st, err := store.NewChromemStore(store.Config{
		Path:     cfg.Store.Path,
		Compress: cfg.Store.Compress,
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	mgr, err := memory.NewManager(st, embedder, cfg.EngineConfig(), logger.Named("memory"))
	if err != nil {
		return fmt.Errorf("creating memory manager: %w", err)
	}

	sweeper, err := memory.NewSweeper(mgr.TierAdjuster(), logger.Named("sweeper"),
		memory.WithSweepInterval(cfg.Sweep.Interval),
		memory.WithSweepTimeout(cfg.Sweep.Timeout))
	if err != nil {
		return fmt.Errorf("creating sweeper: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}
	defer sweeper.Stop()

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listener started", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown failed", zap.Error(err))
	}

	logger.Info("recalld stopped")
	return nil
}

// newEmbedder builds the configured embedding provider and its cleanup.
func newEmbedder(cfg config.EmbeddingConfig) (memory.Embedder, func(), error) {
	switch cfg.Provider {
	case "fastembed":
		p, err := embedding.NewFastEmbedProvider(embedding.FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil

	case "static":
		p, err := embedding.NewStaticProvider(cfg.Dimension)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func printVersion() {
	fmt.Printf("recalld %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}
