// Command appserver runs the token economy API.
//
//	appserver            serve HTTP (default)
//	appserver migrate    apply schema migrations
//	appserver migrate down
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/cardverse/token_layer/internal/app"
	"github.com/cardverse/token_layer/internal/app/httpapi"
	"github.com/cardverse/token_layer/internal/app/storage/postgres"
	"github.com/cardverse/token_layer/internal/config"
	"github.com/cardverse/token_layer/internal/middleware"
	"github.com/cardverse/token_layer/internal/platform/migrations"
	"github.com/cardverse/token_layer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).Named("appserver")

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "migrate" {
		if err := runMigrate(cfg, args[1:]); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("migrations complete")
		return
	}

	if err := serve(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func runMigrate(cfg *config.Config, args []string) error {
	if cfg.Database.DSN == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	if len(args) > 0 && args[0] == "down" {
		return migrations.Down(cfg.Database.DSN)
	}
	return migrations.Up(cfg.Database.DSN)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(stores, app.OptionsFromConfig(*cfg), log.Named("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	var cache middleware.IdempotencyCache = middleware.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		cache = middleware.NewRedisCache(client)
		log.WithField("addr", cfg.Redis.Addr).Info("idempotency cache: redis")
	} else {
		log.Warn("REDIS_ADDR not set; idempotency keys are kept in process memory")
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
	limiter.StartCleanup(ctx, time.Minute)

	handler := httpapi.NewHandler(application, httpapi.Options{
		Issuer:      middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Idempotency: cache,
		RateLimiter: limiter,
		CORSOrigins: cfg.CORS.AllowedOrigins,
		Log:         log.Named("http"),
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service stop error")
	}
	log.Info("stopped")
	return nil
}

// openStores picks postgres when a DSN is configured and memory otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_URL not set; state is kept in memory and lost on exit")
		return app.Stores{}, nil, nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return app.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)
	log.Info("using postgres stores")
	return app.Stores{Users: store, Cards: store, Ledger: store}, db, nil
}
