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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/nutri-api/internal/audit"
	"github.com/jwalitptl/nutri-api/internal/config"
	appointmentHandler "github.com/jwalitptl/nutri-api/internal/handler/appointment"
	"github.com/jwalitptl/nutri-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/nutri-api/internal/handler/patient"
	"github.com/jwalitptl/nutri-api/internal/identity"
	"github.com/jwalitptl/nutri-api/internal/middleware"
	"github.com/jwalitptl/nutri-api/internal/repository"
	"github.com/jwalitptl/nutri-api/internal/repository/memory"
	"github.com/jwalitptl/nutri-api/internal/repository/postgres"
	"github.com/jwalitptl/nutri-api/internal/router"
	appointmentService "github.com/jwalitptl/nutri-api/internal/service/appointment"
	"github.com/jwalitptl/nutri-api/internal/service/event"
	patientService "github.com/jwalitptl/nutri-api/internal/service/patient"
	"github.com/jwalitptl/nutri-api/pkg/logger"
	"github.com/jwalitptl/nutri-api/pkg/messaging/redis"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "nutri-api",
		Short:        "Multi-tenant clinic scheduling API",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			setupLogger(cfg)

			db, err := postgres.NewDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Str("database", cfg.Database.Name).Msg("schema migrated")
			return nil
		},
	}
}

func setupLogger(cfg *config.Config) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})
	l.SetGlobal()
	return l
}

func serve(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Identity.Directory.BaseURL == "" {
		return errors.New("identity.directory.base_url is required")
	}

	appLogger := setupLogger(cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, "nutri")

	store, err := openStore(ctx, cfg, m, appLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, closeBroker, err := openPublisher(ctx, cfg, m, appLogger)
	if err != nil {
		return err
	}
	defer closeBroker()

	auditor, err := audit.NewJSON(cfg.Audit.Output, m)
	if err != nil {
		return err
	}
	defer func() { _ = auditor.Sync() }()

	resolver := identity.NewResolver(cfg.Identity.JWT, appLogger.With("identity").Zerolog())

	var directory identity.Directory = identity.NewRESTDirectory(cfg.Identity.Directory, appLogger.With("directory").Zerolog(), m)
	if cfg.Identity.Directory.CacheTTL > 0 {
		directory = identity.NewCachedDirectory(directory, cfg.Identity.Directory.CacheTTL, cfg.Identity.Directory.NegativeTTL)
	}

	appointments := appointmentService.NewService(store, publisher, auditor,
		appointmentService.WithMetrics(m),
		appointmentService.WithLogger(appLogger.With("appointments").Zerolog()),
	)
	patients := patientService.NewService(store, directory, publisher, auditor,
		patientService.WithLogger(appLogger.With("patients").Zerolog()),
	)

	routerConfig := router.RouterConfig{Mode: cfg.Server.Mode}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = rate.Limit(cfg.RateLimit.RPS)
		routerConfig.RateBurst = cfg.RateLimit.Burst
		routerConfig.RateTTL = cfg.RateLimit.TTL
	}

	r := router.NewRouter(
		routerConfig,
		middleware.NewAuthMiddleware(resolver),
		auditor,
		health.NewHandler(store),
		m,
		registry,
		appointmentHandler.NewHandler(appointments),
		patientHandler.NewHandler(patients),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, l *logger.Logger) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db, cfg.Database.TxRetries, m, l.With("store").Zerolog()), nil
	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func openPublisher(ctx context.Context, cfg *config.Config, m *metrics.Metrics, l *logger.Logger) (event.Publisher, func(), error) {
	if !cfg.Events.Enabled {
		return event.NopPublisher{}, func() {}, nil
	}

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), l.With("broker").Zerolog())
	if err != nil {
		return nil, nil, err
	}
	publisher := event.NewBrokerPublisher(broker, cfg.Events.Channel, l.With("events").Zerolog(), m)
	return publisher, func() { _ = broker.Close() }, nil
}
