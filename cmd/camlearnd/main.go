// Camlearnd is the learning daemon behind CAM operation suggestions.
//
// The binary serves the feedback engine's tools over the MCP stdio
// transport: confidence adjustment, decision recording, history
// statistics, export, confirmed clearing, and stock preferences.
// History lives in a local SQLite database; when the database cannot
// be opened the daemon serves from memory so a corrupt file never
// blocks a session.
//
// Configuration comes from ~/.config/camlearnd/config.yaml overridden
// by CAMLEARND_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon on stdio
//	camlearnd
//
//	# Explicit config file
//	camlearnd --config ~/.config/camlearnd/config.yaml
//
//	# Raise verbosity for one run
//	camlearnd --log-level debug
//
//	# Configure via environment
//	CAMLEARND_LOGGING_LEVEL=debug camlearnd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/camlearnd/internal/config"
	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
	"github.com/fyrsmithlabs/camlearnd/internal/logging"
	"github.com/fyrsmithlabs/camlearnd/internal/mcp"
	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
	"github.com/fyrsmithlabs/camlearnd/internal/storage"
	"github.com/fyrsmithlabs/camlearnd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command-line arguments
	configPath := flag.String("config", "", "config file path (default ~/.config/camlearnd/config.yaml)")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "show version information and exit")
	flag.Parse()
	args := flag.Args()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  camlearnd           Start the learning daemon on stdio\n")
			fmt.Fprintf(os.Stderr, "  camlearnd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *logLevel); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("camlearnd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until context is cancelled.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Builds the stderr logger
//  3. Starts telemetry and, when exporting, tees logs into the OTLP bridge
//  4. Opens SQLite storage, falling back to memory if it cannot be opened
//  5. Wires the feedback service and MCP server
//  6. Serves the stdio transport until context cancellation
func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return fmt.Errorf("failed to apply log level override: %w", err)
		}
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Rebuild the logger with the OTLP bridge once the provider exists.
	if provider := tel.LoggerProvider(); provider != nil {
		bridged, err := logging.New(logging.Options{
			Level:        cfg.Logging.Level,
			Format:       cfg.Logging.Format,
			OTELProvider: provider,
		})
		if err != nil {
			logger.Warn("Failed to attach OTLP log bridge", zap.Error(err))
		} else {
			logger = bridged
		}
	}

	logger.Info("Starting camlearnd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.Bool("telemetry_enabled", tel.IsEnabled()))

	stores := openStores(ctx, cfg, logger)
	defer stores.Close(logger)

	svc, err := feedback.NewService(stores.feedback, cfg.Feedback(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize feedback service: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Config{
		Name:         "camlearnd",
		Version:      version,
		QueryTimeout: cfg.Storage.QueryTimeout.Duration(),
		Logger:       logger,
	}, svc, stores.preferences, tel)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Log startup message to stderr (stdio uses stdout for MCP protocol)
	fmt.Fprintf(os.Stderr, "camlearnd %s started on stdio (database: %s)\n", version, stores.Location())

	// Run stdio server (blocks until context canceled)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server error: %w", err)
	}

	logger.Info("stdio MCP server shutdown complete")
	return nil
}

// stores holds the persistence layer handles for the daemon.
type stores struct {
	feedback    feedback.Store
	preferences preferences.Store

	// db is nil when running on the in-memory fallback.
	db *storage.DB
}

// Location describes where learning state lives, for startup messages.
func (s *stores) Location() string {
	if s.db == nil {
		return "in-memory"
	}
	return s.db.Path()
}

// Close releases the database. Safe when running on the memory fallback.
func (s *stores) Close(logger *zap.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}

// openStores opens the SQLite engine. When the database cannot be
// opened the daemon falls back to in-memory stores and keeps serving;
// learning state then lasts only for the session.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) *stores {
	db, err := storage.Open(ctx, storage.Options{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Duration(),
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("Falling back to in-memory learning state",
			zap.String("path", cfg.Storage.Path),
			zap.Error(err))
		return &stores{
			feedback:    feedback.NewMemStore(),
			preferences: preferences.NewMemStore(),
		}
	}

	logger.Info("Feedback database opened", zap.String("path", db.Path()))
	return &stores{
		feedback:    db.Feedback(),
		preferences: db.Preferences(),
		db:          db,
	}
}
