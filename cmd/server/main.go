package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/player-leaderboard/internal/auth"
	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/handler"
	"github.com/player-leaderboard/internal/kafka"
	"github.com/player-leaderboard/internal/logging"
	"github.com/player-leaderboard/internal/metrics"
	"github.com/player-leaderboard/internal/postgres"
	"github.com/player-leaderboard/internal/redis"
	"github.com/player-leaderboard/internal/service"
	"github.com/player-leaderboard/internal/websocket"
	"github.com/player-leaderboard/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, usedDefaults, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if usedDefaults {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// PostgreSQL is the source of truth and must be reachable
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// The rank index is optional; the service degrades to PostgreSQL reads
	var (
		rankIndex *redis.RankIndex
		index     service.RankIndex
	)
	if cfg.Redis.Enabled {
		rankIndex, err = redis.NewRankIndex(&cfg.Redis, logger, redis.WithStateListener(func(s redis.State) {
			m.RankIndexState(int(s))
		}))
		if err != nil {
			return fmt.Errorf("configuring rank index: %w", err)
		}
		defer rankIndex.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		if err := rankIndex.Ping(pingCtx); err != nil {
			logger.Warn("rank index not reachable at startup, serving rankings from PostgreSQL", "error", err)
		}
		cancel()
		index = rankIndex
	} else {
		logger.Info("rank index disabled, serving rankings from PostgreSQL")
	}

	rankingService := service.NewRankingService(repo, index, &cfg.Ranking, logger)
	rankingService.SetRecorder(m)

	wsHub := websocket.NewHub(logger)
	wsHub.SetAllowedOrigin(cfg.Server.ClientOrigin)
	go wsHub.Run()
	rankingService.SetNotifier(wsHub)

	var rebuildWorker *worker.RebuildWorker
	if cfg.Rebuild.Enabled && index != nil {
		rebuildWorker = worker.NewRebuildWorker(rankingService, &cfg.Rebuild, logger)
		if err := rebuildWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting rebuild worker: %w", err)
		}
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(&cfg.Kafka, rankingService, logger)
		if err != nil {
			logger.Warn("failed to create kafka consumer, continuing without kafka", "error", err)
		} else {
			startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := consumer.Start(startCtx); err != nil {
				logger.Warn("failed to start kafka consumer, continuing without kafka", "error", err)
				_ = consumer.Stop()
				consumer = nil
			}
			cancel()
		}
	}

	authService := auth.NewService(repo, &cfg.Auth, logger)
	httpHandler := handler.NewHandler(rankingService, authService, wsHub, cfg, logger)
	httpHandler.SetMetrics(m)
	if rankIndex != nil {
		httpHandler.SetReadiness(repo, func() string { return rankIndex.State().String() })
	} else {
		httpHandler.SetReadiness(repo, nil)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})
	if consumer != nil {
		g.Go(func() error {
			if err := consumer.Stop(); err != nil {
				return fmt.Errorf("stopping kafka consumer: %w", err)
			}
			return nil
		})
	}
	if rebuildWorker != nil {
		g.Go(rebuildWorker.Stop)
	}
	err = g.Wait()

	wsHub.Stop()
	logger.Info("server stopped")
	return err
}
