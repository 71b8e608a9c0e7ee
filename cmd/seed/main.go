// Command seed creates the demo accounts and players and rebuilds the rank
// index. Existing players are left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/player-leaderboard/internal/auth"
	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
	"github.com/player-leaderboard/internal/logging"
	"github.com/player-leaderboard/internal/postgres"
	"github.com/player-leaderboard/internal/redis"
	"github.com/player-leaderboard/internal/service"
)

type seedAccount struct {
	email    string
	fullName string
	role     domain.Role
	password string
}

var accounts = []seedAccount{
	{email: "admin@example.com", fullName: "Admin", role: domain.RoleAdmin, password: "admin"},
	{email: "user@example.com", fullName: "User", role: domain.RoleUser, password: "user"},
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	playerCount := flag.Int("players", 20, "Number of demo players")
	flag.Parse()

	cfg, usedDefaults, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger, closer := logging.New(cfg.Log)
	defer closer.Close()
	if usedDefaults {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	if err := seed(context.Background(), cfg, *playerCount, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, playerCount int, logger *slog.Logger) error {
	repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		return err
	}

	for _, a := range accounts {
		hash, err := auth.HashPassword(a.password)
		if err != nil {
			return err
		}
		if _, err := repo.UpsertUser(ctx, domain.User{
			ID:           uuid.NewString(),
			Email:        a.email,
			FullName:     a.fullName,
			Role:         a.role,
			PasswordHash: hash,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			return err
		}
		logger.Info("seeded account", "email", a.email, "role", a.role)
	}

	var index service.RankIndex
	if cfg.Redis.Enabled {
		rankIndex, err := redis.NewRankIndex(&cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rankIndex.Close()
		index = rankIndex
	}
	svc := service.NewRankingService(repo, index, &cfg.Ranking, logger)

	now := time.Now().UTC()
	created := 0
	for i := 1; i <= playerCount; i++ {
		in := randomPlayer(fmt.Sprintf("Player%d", i), now)
		if _, err := svc.CreatePlayer(ctx, in); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}
		created++
	}
	logger.Info("seeded players", "created", created, "requested", playerCount)

	if index != nil {
		n, err := svc.RebuildRankIndex(ctx)
		if err != nil {
			logger.Warn("rank index rebuild failed, run it again once redis is reachable", "error", err)
			return nil
		}
		logger.Info("rank index rebuilt", "player_count", n)
	}
	return nil
}

func randomPlayer(username string, lastPlayed time.Time) domain.PlayerInput {
	score := int64(rand.Intn(10000))
	level := 1 + rand.Intn(50)
	played := rand.Intn(500)
	won := rand.Intn(300)
	return domain.PlayerInput{
		Username:    username,
		TotalScore:  &score,
		Level:       &level,
		GamesPlayed: &played,
		GamesWon:    &won,
		Status:      domain.PlayerStatusActive,
		LastPlayed:  &lastPlayed,
	}
}
