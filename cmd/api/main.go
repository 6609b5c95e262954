package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"vaultflow/auth"
	"vaultflow/config"
	"vaultflow/db"
	"vaultflow/decision"
	"vaultflow/execution"
	"vaultflow/ledger"
	"vaultflow/migrations"
	"vaultflow/queue"
	"vaultflow/ratelimit"
	"vaultflow/submission"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Error("apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	entries := queue.NewRepository(pool)
	books := ledger.NewStore(pool)
	engine := execution.NewEngine(pool, entries, books, logger).WithMaxMovement(cfg.MaxMovement)
	submissions := submission.NewService(pool, entries, cfg.Thresholds, engine, logger)
	decisions := decision.NewService(pool, entries, engine, logger)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	server := &Server{
		submissions: submissions,
		decisions:   decisions,
		entries:     entries,
		tokens:      tokens,
		logger:      logger,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		server.limiter = ratelimit.NewLimiter(client, cfg.RateCapacity, cfg.RateRefill, time.Hour)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("authorization engine listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
