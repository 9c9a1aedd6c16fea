package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/trener-gymbot-go/internal/config"
	"github.com/trener-gymbot-go/internal/handlers"
	"github.com/trener-gymbot-go/internal/i18n"
	"github.com/trener-gymbot-go/internal/intent"
	"github.com/trener-gymbot-go/internal/middleware"
	"github.com/trener-gymbot-go/internal/services/api"
	"github.com/trener-gymbot-go/internal/services/cache"
	"github.com/trener-gymbot-go/internal/services/session"
	"github.com/trener-gymbot-go/internal/services/storage"
	"github.com/trener-gymbot-go/internal/transport"
	"github.com/trener-gymbot-go/pkg/logger"
)

// shutdownTimeout bounds how long in-flight messages may run after a signal
const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "gymbot",
		Short: "Gym workout assistant chat bot",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBot(opts)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Path to .env file")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to Telegram and serve messages",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runBot(opts)
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check the workout backend once",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return checkHealth(opts)
			},
		},
	)

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads .env, the configuration and the logger
func setup(opts *options) (*config.Config, *logrus.Logger, error) {
	if err := godotenv.Load(opts.envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Fprintf(os.Stderr, "Warning: .env file not loaded: %v\n", err)
	}

	configPath := opts.configPath
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runBot(opts *options) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	log.Info("Starting gym bot...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tg, err := transport.NewTelegram(cfg.Bot, cfg.Logging.Level == "debug", log)
	if err != nil {
		return err
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	metrics := middleware.NewMetrics()
	if cfg.Monitoring.Metrics.Enabled {
		srv := middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	client := api.NewClient(api.NewGateway(cfg.Backend.BaseURL, metrics, log), cfg.Backend, log)
	if err := client.Health(ctx); err != nil {
		log.WithError(err).WithField("base_url", cfg.Backend.BaseURL).Warn("Backend is not reachable yet")
	}

	activeCache := cache.NewActiveSessionCache(cfg.SessionCache.TTL, client.IsActive, metrics, log)
	sessions := session.NewController(client, activeCache, localizer, log)
	contexts := storage.NewContextStore(cfg, log)
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	cleanup := storage.NewCleanupService(cfg.Context.SweepInterval, log)
	cleanup.Register("rate_limiter", rateLimiter)
	cleanup.OnSweep(func() {
		metrics.SetActiveContexts(contexts.Len())
	})
	cleanup.Start(ctx)
	defer cleanup.Stop()

	commandHandler := handlers.NewCommandHandler(sessions, contexts, client, localizer, metrics, log)
	classifier := intent.NewClassifier(intent.KeywordsFromConfig(cfg.Keywords), commandHandler.Names()...)
	messageHandler := handlers.NewMessageHandler(
		cfg,
		tg,
		rateLimiter,
		classifier,
		commandHandler,
		sessions,
		contexts,
		client,
		localizer,
		metrics,
		log,
	)

	// in-flight messages outlive the signal until shutdownTimeout
	handleCtx, cancelHandling := context.WithCancel(context.Background())
	defer cancelHandling()

	var wg sync.WaitGroup
	for msg := range tg.Messages(ctx) {
		wg.Add(1)
		go func(msg transport.InboundMessage) {
			defer wg.Done()
			messageHandler.HandleMessage(handleCtx, msg)
		}(msg)
	}

	log.Info("Shutdown signal received, waiting for in-flight messages")
	if !waitTimeout(&wg, shutdownTimeout) {
		log.Warn("Shutdown timeout reached, cancelling in-flight messages")
		cancelHandling()
		wg.Wait()
	}

	log.Info("Bot stopped")
	return nil
}

func checkHealth(opts *options) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := api.NewClient(api.NewGateway(cfg.Backend.BaseURL, nil, log), cfg.Backend, log)
	if err := client.Health(ctx); err != nil {
		fmt.Printf("backend %s: down (%v)\n", cfg.Backend.BaseURL, err)
		return err
	}
	fmt.Printf("backend %s: ok\n", cfg.Backend.BaseURL)
	return nil
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
