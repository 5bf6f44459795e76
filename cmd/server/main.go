package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/fuomag9/vscode-farm/internal/api"
	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/container"
	"github.com/fuomag9/vscode-farm/internal/jobs"
	"github.com/fuomag9/vscode-farm/internal/logging"
	"github.com/fuomag9/vscode-farm/internal/oauth"
	"github.com/fuomag9/vscode-farm/internal/session"
)

var (
	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vscode-farm",
	Short: "Log users in with OAuth and hand each one a personal VS Code container",
	// Errors are logged by run; usage output would only hide them.
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment (missing file is ignored)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	// Session cookies
	sessions, err := session.NewStore(cfg.Cookie, logging.Component(logger, "session"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create session store")
		return err
	}

	// Identity provider
	oauthClient := oauth.NewClient(cfg.OAuth, cfg.RedirectURL())

	// Container runtime
	runtimeLogger := logging.Component(logger, "container")
	startCtx, cancel := context.WithTimeout(ctx, cfg.Container.Timeout)
	runtime, err := container.NewRuntime(startCtx, cfg.Container, runtimeLogger)
	cancel()
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Container.Driver).Msg("Failed to connect to container runtime")
		return err
	}
	if closer, ok := runtime.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	orchestrator := container.NewOrchestrator(runtime, cfg.Container, runtimeLogger)

	// Initialize job scheduler
	if inventory, ok := runtime.(container.Inventory); ok {
		scheduler := jobs.NewScheduler(inventory, cfg.InventorySchedule, logging.Component(logger, "jobs"))
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start job scheduler")
			return err
		}
		defer scheduler.Stop()
	}

	// Rate limiting
	limiter := api.NewRateLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, 10*time.Minute)
	limiter.CleanupOldLimiters()
	defer limiter.Stop()

	// Setup API router
	router := api.NewRouter(cfg, sessions, oauthClient, orchestrator, limiter, logging.Component(logger, "http"))

	// Create HTTP server. Provisioning runs three runtime calls inside one
	// request, so the write timeout covers all of them.
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15*time.Second + 3*cfg.Container.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("public_url", cfg.PublicURL).
			Str("driver", cfg.Container.Driver).
			Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Server failed to start")
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	logger.Info().Msg("Server exited")
	return nil
}
