package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/altinn/process-engine/internal/api"
	"github.com/altinn/process-engine/internal/command"
	"github.com/altinn/process-engine/internal/config"
	"github.com/altinn/process-engine/internal/engine"
	"github.com/altinn/process-engine/internal/logger"
	"github.com/altinn/process-engine/internal/ratelimit"
	"github.com/altinn/process-engine/internal/scheduler"
	"github.com/altinn/process-engine/internal/store"
	"github.com/altinn/process-engine/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.RunMigrations(ctx); err != nil {
		log.Error("run migrations", "error", err)
		os.Exit(1)
	}
	repo := store.NewResilient(pg, cfg.StoreRetryAttempts, cfg.StoreRetryInitial, cfg.StoreRetryMax, log)

	registry := command.NewRegistry()
	// Application callbacks (signing, correspondence, ...) are
	// registered here by the embedding application before Run.

	sched := scheduler.New(cfg, repo, registry, log)
	recovered, err := sched.Recover(ctx)
	if err != nil {
		log.Error("startup recovery", "error", err)
		os.Exit(1)
	}
	log.Info("startup recovery done", "jobs", recovered)

	client := engine.NewClient(repo, sched, log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewSubmitLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: api.New(client, limiter, log).Router()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		log.Info("api listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("engine stopped", "error", err)
		os.Exit(1)
	}
	log.Info("engine stopped")
}
