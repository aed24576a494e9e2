// Corpusd is a document indexing and semantic search daemon.
//
// It watches configured directory trees, extracts text from PDF, HTML,
// CSV, Markdown and plain-text files, chunks and embeds the content,
// and serves similarity search over HTTP with strict per-tenant
// isolation.
//
// Configuration is loaded from ~/.config/corpusd/config.yaml and
// CORPUSD_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	corpusd
//
//	# Explicit config file
//	corpusd -config /etc/corpusd/config.yaml
//
//	# Configure via environment
//	CORPUSD_SERVER_PORT=9090 corpusd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/extract"
	"github.com/fyrsmithlabs/corpusd/internal/indexer"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/server"
	"github.com/fyrsmithlabs/corpusd/internal/source"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/corpusd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  corpusd           Start the corpusd daemon\n")
			fmt.Fprintf(os.Stderr, "  corpusd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("corpusd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the corpusd daemon and blocks until ctx is cancelled.
//
// Initialization order: configuration, logger, embedding provider,
// vector store manager, tracker, indexing pipeline, search engine,
// HTTP server, then the optional watcher and scheduler.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("roots", len(cfg.Index.Roots)),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := initDependencies(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	orch, err := initIndexer(cfg, deps, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize indexer: %w", err)
	}

	engine := search.New(search.Config{
		MaxResults:     cfg.Search.MaxResults,
		ScoreThreshold: float32(cfg.Search.ScoreThreshold),
		SnippetLength:  cfg.Search.SnippetLength,
	}, deps.batcher, deps.manager, logger)

	var idx server.Indexer = orch
	if orch == nil {
		idx = disabledIndexer{}
	}

	srv, err := server.New(ctx, engine, idx, deps.manager, deps.tracker, registry, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	if cfg.Index.OnStart && orch != nil {
		go func() {
			if _, err := orch.Run(ctx, indexer.Options{Mode: indexer.ModeIncremental}); err != nil {
				logger.Warn("startup pass failed", zap.Error(err))
			}
		}()
	}

	if cfg.Watcher.Enabled && orch != nil {
		watcher, err := indexer.NewWatcher(orch, time.Duration(cfg.Watcher.Debounce), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize watcher: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("watcher stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Scheduler.Enabled && orch != nil {
		scheduler := indexer.NewScheduler(orch, cfg.Scheduler.Spec, logger)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// Persist tracker state and wait for the store to settle before exit.
	if err := deps.tracker.Save(); err != nil {
		logger.Warn("tracker save failed", zap.Error(err))
	}
	if err := deps.manager.AwaitClosed(shutdownCtx); err != nil {
		logger.Warn("store did not close cleanly", zap.Error(err))
	}

	return nil
}

// dependencies holds shared infrastructure.
type dependencies struct {
	provider embeddings.Provider
	batcher  *embeddings.Batcher
	manager  *vectorstore.Manager
	tracker  *tracker.Tracker
	logger   *zap.Logger
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.batcher != nil {
		_ = d.batcher.Close()
	}
}

// initDependencies creates the embedding provider, vector store
// manager and file tracker.
func initDependencies(cfg *config.Config, registry *prometheus.Registry, logger *zap.Logger) (*dependencies, error) {
	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		CacheDir:      expandHome(cfg.Embeddings.CacheDir),
		MaxInputChars: cfg.Embeddings.MaxInputChars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	if provider.Dimension() != cfg.VectorStore.VectorSize {
		return nil, fmt.Errorf("embedding dimension %d does not match configured vector size %d",
			provider.Dimension(), cfg.VectorStore.VectorSize)
	}

	batcher := embeddings.NewBatcher(provider, embeddings.BatcherConfig{
		MaxBatch:      cfg.Embeddings.MaxBatch,
		Workers:       cfg.Embeddings.Workers,
		RatePerSecond: cfg.Embeddings.RatePerSecond,
	})

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", provider.Dimension()))

	backend, err := vectorstore.NewBackend(vectorstore.BackendConfig{
		Provider:        cfg.VectorStore.Provider,
		Collection:      cfg.VectorStore.Collection,
		VectorSize:      cfg.VectorStore.VectorSize,
		ChromemPath:     expandHome(cfg.VectorStore.Chromem.Path),
		ChromemCompress: cfg.VectorStore.Chromem.Compress,
		QdrantHost:      cfg.VectorStore.Qdrant.Host,
		QdrantPort:      cfg.VectorStore.Qdrant.Port,
		QdrantUseTLS:    cfg.VectorStore.Qdrant.UseTLS,
	})
	if err != nil {
		_ = batcher.Close()
		return nil, fmt.Errorf("failed to create vector store backend: %w", err)
	}

	manager := vectorstore.NewManager(backend, logger, vectorstore.NewMetrics(registry))

	trackerPath := expandHome(cfg.Index.TrackerPath)
	if trackerPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			_ = batcher.Close()
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		trackerPath = filepath.Join(home, ".local", "share", "corpusd", "index.json")
	}
	if err := os.MkdirAll(filepath.Dir(trackerPath), 0700); err != nil {
		_ = batcher.Close()
		return nil, fmt.Errorf("failed to create tracker directory: %w", err)
	}
	track, err := tracker.Open(trackerPath, cfg.Index.MaxAttempts, logger)
	if err != nil {
		_ = batcher.Close()
		return nil, fmt.Errorf("failed to open tracker: %w", err)
	}

	logger.Info("vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.Int("vector_size", cfg.VectorStore.VectorSize),
		zap.String("tracker", trackerPath))

	return &dependencies{
		provider: provider,
		batcher:  batcher,
		manager:  manager,
		tracker:  track,
		logger:   logger,
	}, nil
}

// initIndexer wires the indexing pipeline. Returns nil when no roots
// are configured: the daemon then serves search over whatever the
// store already holds.
func initIndexer(cfg *config.Config, deps *dependencies, registry *prometheus.Registry, logger *zap.Logger) (*indexer.Orchestrator, error) {
	if len(cfg.Index.Roots) == 0 {
		logger.Warn("no index roots configured, indexing disabled")
		return nil, nil
	}

	chunk, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	roots := make([]indexer.Root, 0, len(cfg.Index.Roots))
	for _, r := range cfg.Index.Roots {
		roots = append(roots, indexer.Root{
			Path:   expandHome(r.Path),
			Tenant: r.Tenant,
			Tags:   r.Tags,
		})
	}

	return indexer.New(
		indexer.Config{
			Roots:        roots,
			BatchSize:    cfg.Index.BatchSize,
			MaxAttempts:  cfg.Index.MaxAttempts,
			RetryBackoff: time.Duration(cfg.Index.RetryBackoff),
			OpTimeout:    time.Duration(cfg.Index.OpTimeout),
		},
		source.NewOS(cfg.Index.MaxFileSize),
		extract.NewRegistry(logger),
		chunk,
		deps.batcher,
		deps.manager,
		deps.tracker,
		logger,
		indexer.NewMetrics(registry),
	)
}

// disabledIndexer stands in when no roots are configured; the daemon
// still serves search over whatever the store already holds.
type disabledIndexer struct{}

func (disabledIndexer) Run(context.Context, indexer.Options) (indexer.Stats, error) {
	return indexer.Stats{}, fmt.Errorf("indexing disabled: no roots configured")
}

func (disabledIndexer) Rebuilding() bool { return false }

// expandHome resolves a leading "~/" against the user's home
// directory. Paths without the prefix pass through untouched.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
