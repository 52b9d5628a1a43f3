package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pdfsqueeze/internal/archive"
	"pdfsqueeze/internal/auth"
	"pdfsqueeze/internal/circuitbreaker"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/database"
	"pdfsqueeze/internal/handlers"
	"pdfsqueeze/internal/janitor"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/pipeline"
	"pdfsqueeze/internal/recompress"
	"pdfsqueeze/internal/results"
	"pdfsqueeze/internal/server"
	"pdfsqueeze/internal/storage"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (overrides CONFIG_FILE env var)")
	flag.Parse()

	// Load environment variables from file
	loadEnvFile(*configFile)

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	m := metrics.New()
	m.StartRuntimeMetricsCollector(ctx, 15*time.Second)

	a, err := newApp(ctx, logger, cfg, m)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.close()

	a.janitor.Start(ctx)
	defer a.janitor.Stop()

	// Initialize and start server
	if err := a.server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Wait for shutdown signal
	if err := a.server.WaitForShutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// app holds the wired service
type app struct {
	index   database.Store
	blobs   storage.Provider
	results *results.Service
	janitor *janitor.Janitor
	server  *server.Server
}

func newApp(ctx context.Context, logger *zap.Logger, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	// Missing blobs are an answer, not a backend failure
	storageBreaker := circuitbreaker.New("storage", cfg, m, storage.ErrNotFound)
	logger.Info("initialized circuit breaker", zap.String("name", storageBreaker.Name()))

	index, err := database.New(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("result index: %w", err)
	}
	logger.Info("initialized result index", zap.String("engine", cfg.DBEngine))

	blobs, err := storage.New(ctx, cfg, m, storageBreaker)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("result storage: %w", err)
	}
	logger.Info("initialized result storage", zap.String("type", cfg.StorageType))

	rc, err := recompress.New(cfg)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("recompressor: %w", err)
	}
	if o, ok := rc.(*recompress.Optimizer); ok && !o.Available() {
		logger.Warn("ghostscript not found, optimize runs will fail", zap.String("path", cfg.GhostscriptPath))
	}
	logger.Info("initialized recompressor", zap.String("strategy", rc.Name()))

	signer := auth.NewSigner(cfg.SigningSecret, cfg.EnforceSigning, m)
	svc := results.New(logger, index, blobs, signer, results.Options{
		TTL:           cfg.ResultTTL,
		PublicBaseURL: cfg.PublicBaseURL,
	})

	p := pipeline.New(logger, rc, svc, m, pipelineOptions(cfg))

	callbacks := handlers.NewCallbacker(logger, m, cfg.CallbackMaxRetries, cfg.CallbackRetryDelay)
	srv := server.New(logger, cfg, m, server.Handlers{
		Compress: handlers.NewCompressHandler(logger, p, svc, callbacks, m, cfg.MaxUploadBytes, cfg.MaxActiveRuns),
		Download: handlers.NewDownloadHandler(logger, svc, signer, m),
		Health:   handlers.NewHealthHandler(logger, index, blobs, m),
	})

	return &app{
		index:   index,
		blobs:   blobs,
		results: svc,
		janitor: janitor.New(logger, svc, cfg.JanitorInterval, m),
		server:  srv,
	}, nil
}

func (a *app) close() {
	a.index.Close()
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		WorkDir: cfg.WorkDir,
		Limits: archive.Limits{
			MaxEntries:    cfg.MaxArchiveEntries,
			MaxTotalBytes: cfg.MaxExtractedBytes,
		},
		DocumentTimeout: cfg.DocumentTimeout,
		DefaultQuality:  cfg.DefaultQuality,
		DefaultScale:    cfg.DefaultScale,
	}
}

// loadEnvFile loads environment variables from a file
// Priority: --config flag > CONFIG_FILE env var > .env file
// Silently continues if file doesn't exist (falls back to OS env vars)
func loadEnvFile(flagConfigFile string) {
	var configFile string

	// 1. Check --config flag
	if flagConfigFile != "" {
		configFile = flagConfigFile
	} else {
		// 2. Check CONFIG_FILE env var
		configFile = os.Getenv("CONFIG_FILE")
	}

	// 3. Try specified file or default to .env
	if configFile != "" {
		// User specified a file - fail if it doesn't exist
		if err := godotenv.Load(configFile); err != nil {
			log.Fatalf("failed to load config file %s: %v", configFile, err)
		}
		log.Printf("loaded config from: %s", configFile)
	} else {
		// Try .env but don't error if it doesn't exist
		if err := godotenv.Load(); err == nil {
			log.Println("loaded config from: .env")
		}
	}
}
