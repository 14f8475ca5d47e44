// Command waanauthd serves the waanauth HTTP API backed by Redis, Postgres
// and, when brokers are configured, Kafka message delivery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/dispatch/kafka"
	"github.com/waanverse/waanauth/internal/config"
	exportprom "github.com/waanverse/waanauth/metrics/export/prometheus"
	"github.com/waanverse/waanauth/store/postgres"
	"github.com/waanverse/waanauth/transport/httpapi"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	_ = godotenv.Load()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(settings.App)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("waanauthd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(app config.AppSettings) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if app.Production() {
		cfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(app.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	return cfg.Build()
}

func run(ctx context.Context, settings *config.Settings, logger *zap.Logger) error {
	engineCfg, err := settings.EngineConfig()
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	db, err := postgres.Open(ctx, settings.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if settings.Postgres.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	var sender dispatch.Sender = dispatch.NewLogSender(logger)
	if len(settings.Kafka.Brokers) > 0 {
		ks, err := kafka.NewSender(kafka.Config{
			Brokers:  settings.Kafka.Brokers,
			Topic:    settings.Kafka.Topic,
			ClientID: settings.Kafka.ClientID,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := ks.Close(); err != nil {
				logger.Warn("kafka sender close failed", zap.Error(err))
			}
		}()
		sender = ks
	} else {
		logger.Warn("no kafka brokers configured; outbound messages are only logged")
	}

	engine, err := waanauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLogger(logger).
		WithIdentityStore(db.Identities).
		WithMFAStore(db.MFA).
		WithResetTokenStore(db.Resets).
		WithDeviceStore(db.Devices).
		WithSender(sender).
		WithMetricsEnabled(settings.Metrics.Enabled).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		zap.Bool("production", report.ProductionMode),
		zap.String("signing_method", report.SigningMethod),
		zap.Bool("mfa", report.MFAEnabled),
		zap.Bool("refresh_rotation", report.RefreshRotationEnabled),
	)
	for _, w := range report.Warnings {
		logger.Warn("security posture", zap.String("warning", w))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		exportprom.NewCollector(engine),
	)
	httpMetrics, err := httpapi.NewHTTPMetrics(reg, settings.Metrics.Namespace)
	if err != nil {
		return err
	}

	if settings.App.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := httpapi.NewRouter(engine, httpapi.Options{
		Logger: logger,
		RateLimit: httpapi.RateLimitOptions{
			RPS:   settings.HTTP.RateLimitRPS,
			Burst: settings.HTTP.RateLimitBurst,
		},
		Metrics: httpMetrics,
		Extra: func(r *gin.Engine) {
			r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         settings.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  settings.HTTP.ReadTimeout,
		WriteTimeout: settings.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("waanauthd listening", zap.String("addr", settings.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
