// Command accountd serves the account engine over HTTP.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config. With DATABASE_URL set, accounts live in Postgres and
// Redis only holds codes and sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/internal/config"
	"github.com/MrEthical07/goAccount/internal/httpapi"
	"github.com/MrEthical07/goAccount/internal/logging"
	promexport "github.com/MrEthical07/goAccount/metrics/export/prometheus"
	"github.com/MrEthical07/goAccount/store/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("accountd stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	builder := goAccount.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithMailer(newMailer(cfg, logger)).
		WithLogger(logger).
		WithAuditSink(goAccount.NewZapSink(logger.Named("audit")))

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		builder = builder.WithStore(postgres.New(db))
		logger.Info("account store: postgres")
	} else {
		logger.Info("account store: redis")
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(engine, logger.Named("http")))
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promexport.NewPrometheusExporter(engine).Handler())
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down http server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("http server stopped", zap.Uint64("audit_dropped", engine.AuditDropped()))
	return nil
}

// newMailer picks the code delivery for the process. No SMTP transport ships
// with accountd, so outside dev mode codes are discarded and startup says so.
func newMailer(cfg *config.Config, logger *zap.Logger) goAccount.Mailer {
	if cfg.DevMailer {
		logger.Info("mailer: logging codes", zap.String("env", cfg.Env))
		return goAccount.NewLogMailer(logger)
	}
	logger.Warn("mailer: none configured, verification and reset codes are discarded",
		zap.String("env", cfg.Env))
	return goAccount.NoOpMailer{}
}
