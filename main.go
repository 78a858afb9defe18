package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pawprints_backend/admission"
	"pawprints_backend/core"
	"pawprints_backend/db"
	"pawprints_backend/logging"
	"pawprints_backend/meshy"
	"pawprints_backend/pipeline"
	"pawprints_backend/shapeways"
	"pawprints_backend/shutdown"
	"pawprints_backend/startup"
	"pawprints_backend/stylize"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Determine if running in development mode
	isDevelopment := os.Getenv("DEV_MODE") == "true"

	// Initialize structured logger early
	logger, err := logging.NewLogger(isDevelopment, "app.log")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Printf("Failed to sync logger: %v\n", syncErr)
		}
	}()

	// Service management commands (install/uninstall/start/stop on Windows)
	if HandleServiceCommand(os.Args) {
		return
	}

	// When launched by the Windows service manager, run under its lifecycle
	if ranAsService, err := RunAsService(); ranAsService {
		if err != nil {
			logger.Error("Service run failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	os.Exit(runApp(context.Background(), logger, isDevelopment))
}

// runApp builds and runs the full application. Returns the process exit code.
// This is the shared entry point for foreground and service execution.
func runApp(ctx context.Context, logger *logging.Logger, isDevelopment bool) int {
	config, err := core.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	// Run startup validation before heavy operations
	if code := runStartupValidation(config, logger, isDevelopment); code != 0 {
		return code
	}

	logger.Info("Configuration loaded",
		zap.Int("port", config.Port),
		zap.Strings("provider_order", config.ProviderOrder),
		zap.Bool("meshy", config.HasMeshy()),
		zap.Bool("shapeways", config.HasShapeways()),
		zap.Int("daily_cap", config.DailyGenerationCap),
		zap.Bool("admission_enforce", config.AdmissionEnforce),
		zap.Float64("markup_rate", config.MarkupRate),
		zap.String("database", config.DatabasePath),
		zap.Bool("dev_mode", isDevelopment),
	)

	// Shutdown coordination: lower priority runs first
	manager := shutdown.NewManager(logger.Zap(), shutdown.WithTimeout(30*time.Second))

	// Generation history store. The pipeline degrades to no history when
	// the database cannot be opened, so failures are non-fatal.
	repo, database := setupDatabase(manager, config, logger)

	p, err := buildPipeline(config, repo, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", zap.Error(err))
		return 1
	}

	server := NewServer(config, p, repo, logger)
	manager.Register("http-server", 10, func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	manager.Register("cleanup-uploads", 45,
		shutdown.CleanupUploads(logger.Zap(), config.UploadsDir, shutdown.DefaultUploadMaxAge))

	// History retention runs daily until shutdown
	if database != nil {
		database.StartCleanupScheduler(manager.Context(), 30, 24*time.Hour)
	}

	// Translate signals into the manager's context
	manager.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			manager.Shutdown()
			return 1
		}
	case <-manager.Context().Done():
		logger.Info("Shutdown requested")
	case <-ctx.Done():
		logger.Info("Service stop requested")
	}

	if err := manager.Shutdown(); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
		return 1
	}

	logger.Info("Goodbye!")
	return 0
}

// runStartupValidation checks configuration and external reachability.
// Returns 0 when the process may continue.
func runStartupValidation(config *core.Config, logger *logging.Logger, isDevelopment bool) int {
	logger.Info("Starting startup validation...")

	suite := startup.NewValidationSuite(config).
		WithNetworkChecks(core.ParseBoolEnv("STARTUP_NETWORK_CHECKS", !isDevelopment))

	result := suite.Validate()

	if !result.Success {
		logger.Error("Startup validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)

		// Log individual failures for debugging
		for _, step := range result.Steps {
			if step.Status == startup.StepFailed {
				logger.Error("Validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}

		return 1
	}

	logger.Info("Startup validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return 0
}

// setupDatabase opens the history database, runs migrations, and starts the
// history writer. Returns (nil, nil) when the database is unavailable.
func setupDatabase(manager *shutdown.Manager, config *core.Config, logger *logging.Logger) (*db.Repository, *db.Database) {
	database, err := db.NewDatabase(config.DatabasePath)
	if err != nil {
		logger.Error("Database unavailable, continuing without history", zap.Error(err))
		return nil, nil
	}

	if err := database.Migrate(); err != nil {
		logger.Error("Database migration failed, continuing without history", zap.Error(err))
		database.Close()
		return nil, nil
	}

	writer := db.NewHistoryWriter(database, logger.Zap().Named("history"))
	writer.Start()
	repo := db.NewRepository(database, writer)

	manager.Register("history-writer", 30, func(ctx context.Context) error {
		if !writer.StopWithTimeout(10 * time.Second) {
			return fmt.Errorf("history writer drain timed out")
		}
		return nil
	})
	manager.Register("database", 35, func(ctx context.Context) error {
		return database.Close()
	})

	logger.Info("Database ready", zap.String("path", database.Path()))
	return repo, database
}

// buildPipeline assembles the generation pipeline from configuration.
// Unconfigured integrations are skipped or passed in as nil.
func buildPipeline(config *core.Config, repo *db.Repository, logger *logging.Logger) (*pipeline.Pipeline, error) {
	gate := admission.NewGate(config, logger)

	providers := buildProviders(config, logger)
	chain := stylize.NewChain(providers, config.StylizeTimeout, logger)
	views := stylize.NewViews(chain, logger)

	mesh, err := meshy.NewClient(config, logger)
	if err != nil {
		if err != meshy.ErrNotConfigured {
			return nil, err
		}
		mesh = nil
	}

	vendor, err := shapeways.NewClient(config, logger)
	if err != nil {
		if err != shapeways.ErrNotConfigured {
			return nil, err
		}
		vendor = nil
	}

	return pipeline.New(config, gate, chain, views, mesh, vendor, repo, logger)
}

// buildProviders constructs the stylization fallback chain in the configured
// order, skipping providers without credentials.
func buildProviders(config *core.Config, logger *logging.Logger) []stylize.Provider {
	fetcher := stylize.NewFetcher(config)

	var providers []stylize.Provider
	for _, name := range config.ProviderOrder {
		switch name {
		case "gemini":
			if !config.HasGemini() {
				continue
			}
			p, err := stylize.NewGeminiProvider(config)
			if err != nil {
				logger.Warn("Skipping gemini provider", zap.Error(err))
				continue
			}
			providers = append(providers, p)
		case "openai":
			if !config.HasOpenAI() {
				continue
			}
			p, err := stylize.NewOpenAIProvider(config, fetcher)
			if err != nil {
				logger.Warn("Skipping openai provider", zap.Error(err))
				continue
			}
			providers = append(providers, p)
		case "removebg":
			if config.RemoveBGAPIKey == "" {
				continue
			}
			p, err := stylize.NewRemoveBGProvider(config)
			if err != nil {
				logger.Warn("Skipping removebg provider", zap.Error(err))
				continue
			}
			providers = append(providers, p)
		default:
			logger.Warn("Unknown provider in PROVIDER_ORDER", zap.String("provider", name))
		}
	}

	return providers
}
