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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/nutri-api/internal/config"
	"github.com/jwalitptl/nutri-api/internal/email"
	"github.com/jwalitptl/nutri-api/internal/repository/postgres"
	"github.com/jwalitptl/nutri-api/internal/service/notification"
	"github.com/jwalitptl/nutri-api/internal/worker"
	"github.com/jwalitptl/nutri-api/pkg/logger"
	"github.com/jwalitptl/nutri-api/pkg/messaging/redis"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var configPath, healthAddr string

	rootCmd := &cobra.Command{
		Use:          "nutri-worker",
		Short:        "Consume domain events and send patient notifications",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, healthAddr)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "Listen address for health and metrics")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, healthAddr string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("worker requires the postgres store, got %q", cfg.Store.Driver)
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})
	appLogger.SetGlobal()
	zl := appLogger.With("worker").Zerolog()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(registry, "nutri_worker")

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	store := postgres.NewStore(db, cfg.Database.TxRetries, m, appLogger.With("store").Zerolog())
	defer store.Close()

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), appLogger.With("broker").Zerolog())
	if err != nil {
		return err
	}
	defer broker.Close()

	notifier := notification.NewService(store, email.NewSMTPService(cfg.SMTP), appLogger.With("notification").Zerolog(), m)
	consumer := worker.NewConsumer(broker, cfg.Events.Channel, notifier, zl)

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := broker.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := store.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	healthSrv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("event stream closed")
		}
		return nil
	})
	g.Go(func() error {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
