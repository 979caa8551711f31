// Kbserve is a knowledge-base service over an embedded vector index.
//
// It exposes an HTTP API for creating knowledge bases, uploading documents
// (split, embedded and deduplicated on the way in) and querying them by
// semantic similarity.
//
// Usage:
//
//	# Start server with defaults
//	kbserve
//
//	# Configure via file and environment
//	kbserve -config /etc/kbserve/config.yaml
//	KBSERVE_SERVER_PORT=9090 kbserve
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
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kbserve/internal/collection"
	"github.com/fyrsmithlabs/kbserve/internal/config"
	"github.com/fyrsmithlabs/kbserve/internal/configstore"
	"github.com/fyrsmithlabs/kbserve/internal/embeddings"
	"github.com/fyrsmithlabs/kbserve/internal/httpapi"
	"github.com/fyrsmithlabs/kbserve/internal/knowledge"
	"github.com/fyrsmithlabs/kbserve/internal/loader"
	"github.com/fyrsmithlabs/kbserve/internal/logging"
	"github.com/fyrsmithlabs/kbserve/internal/namemap"
	"github.com/fyrsmithlabs/kbserve/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
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
			fmt.Fprintf(os.Stderr, "  kbserve           Start the kbserve daemon\n")
			fmt.Fprintf(os.Stderr, "  kbserve version   Show version information\n")
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

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("kbserve by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the service and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting kbserve",
		zap.String("version", version),
		zap.String("addr", cfg.Addr()),
		zap.String("store_path", cfg.Store.Path))

	index, err := vectorstore.NewChromemIndex(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Warn("failed to close vector index", zap.Error(err))
		}
	}()

	names, err := namemap.New(filepath.Join(cfg.Store.Path, "name_mapping.json"), logger)
	if err != nil {
		return fmt.Errorf("failed to open name mapping store: %w", err)
	}

	manager := collection.NewManager(index, names, logger)

	settings, err := configstore.New(cfg.Embedding.ConfigPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open embedding settings: %w", err)
	}

	embedder, err := initEmbedder(cfg, settings, logger)
	if err != nil {
		return err
	}
	if embedder != nil {
		defer embedder.Close()
	} else {
		logger.Warn("no embedding provider configured; uploads and queries will fail until one is set via POST /config/embedding")
	}

	service, err := knowledge.NewService(loader.New(), cfg.Splitter, embedder, manager, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize knowledge service: %w", err)
	}

	srv, err := httpapi.NewServer(service, settings, logger, &httpapi.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// initEmbedder builds the embedding provider from the durable settings
// file, falling back to the inline config when the file has no provider
// yet. Returns nil when neither names a provider.
func initEmbedder(cfg *config.Config, store *configstore.Store, logger *zap.Logger) (embeddings.Provider, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding settings: %w", err)
	}

	embedCfg := embeddings.Config{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
	}
	if settings.Embedding != nil {
		embedCfg = embeddings.Config{
			Provider: settings.Embedding.Provider,
			APIKey:   settings.Embedding.APIKey,
			Model:    settings.Embedding.Model,
			BaseURL:  settings.Embedding.BaseURL,
		}
	}
	if embedCfg.Provider == "" {
		return nil, nil
	}

	client, err := embeddings.New(embedCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	logger.Info("embedding provider configured",
		zap.String("provider", embedCfg.Provider),
		zap.String("model", client.Model()))
	return client, nil
}
