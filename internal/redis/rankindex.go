package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
)

// GlobalRankingKey is the sorted set holding every player's total score
const GlobalRankingKey = "leaderboard:global"

// rebuildChunk bounds the number of members sent in one ZADD
const rebuildChunk = 1000

// RankIndex mirrors player scores into a Redis sorted set. Every error it
// returns wraps domain.ErrRankIndexUnavailable.
type RankIndex struct {
	client *redis.Client
	key    string
	state  *stateTracker
	logger *slog.Logger
}

// Option customizes a RankIndex
type Option func(*RankIndex)

// WithStateListener registers a callback invoked on reachability changes
func WithStateListener(fn func(State)) Option {
	return func(r *RankIndex) {
		r.state.listener = fn
	}
}

// WithKey overrides the sorted set key
func WithKey(key string) Option {
	return func(r *RankIndex) {
		r.key = key
	}
}

// NewRankIndex creates a client from configuration. The server is not
// contacted; use Ping to probe it.
func NewRankIndex(cfg *config.RedisConfig, logger *slog.Logger, opts ...Option) (*RankIndex, error) {
	options, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	return NewRankIndexFromClient(redis.NewClient(options), logger, opts...), nil
}

// NewRankIndexFromClient wraps an existing client and installs the
// reachability hook on it
func NewRankIndexFromClient(client *redis.Client, logger *slog.Logger, opts ...Option) *RankIndex {
	r := &RankIndex{
		client: client,
		key:    GlobalRankingKey,
		state:  &stateTracker{logger: logger},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	client.AddHook(stateHook{tracker: r.state})
	return r
}

func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	var options *redis.Options
	if cfg.URL != "" {
		// rediss:// enables TLS
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		options = parsed
	} else {
		options = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	options.PoolSize = cfg.PoolSize
	options.MinIdleConns = cfg.MinIdleConns
	options.DialTimeout = cfg.DialTimeout
	options.ReadTimeout = cfg.ReadTimeout
	options.WriteTimeout = cfg.WriteTimeout
	return options, nil
}

// Close closes the Redis connection
func (r *RankIndex) Close() error {
	return r.client.Close()
}

// State returns the last observed reachability
func (r *RankIndex) State() State {
	return r.state.current()
}

// Key returns the sorted set key
func (r *RankIndex) Key() string {
	return r.key
}

// Ping probes the server
func (r *RankIndex) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// SetScore inserts or overwrites a player's score
func (r *RankIndex) SetScore(ctx context.Context, playerID string, score int64) error {
	err := r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(score),
		Member: playerID,
	}).Err()
	if err != nil {
		return unavailable("setting score", err)
	}
	return nil
}

// Remove deletes a player's entry; absent players are a no-op
func (r *RankIndex) Remove(ctx context.Context, playerID string) error {
	if err := r.client.ZRem(ctx, r.key, playerID).Err(); err != nil {
		return unavailable("removing player", err)
	}
	return nil
}

// TopDesc returns up to limit entries by descending score. An empty slice
// with a nil error means the index holds no entries.
func (r *RankIndex) TopDesc(ctx context.Context, limit int) ([]domain.RankEntry, error) {
	if limit <= 0 {
		return []domain.RankEntry{}, nil
	}
	results, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable("getting top entries", err)
	}

	entries := make([]domain.RankEntry, 0, len(results))
	for _, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, domain.RankEntry{
			Rank:     int64(len(entries) + 1),
			PlayerID: member,
			Score:    int64(result.Score),
		})
	}
	return entries, nil
}

// Count returns the number of ranked players
func (r *RankIndex) Count(ctx context.Context) (int64, error) {
	count, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return 0, unavailable("getting count", err)
	}
	return count, nil
}

// Rebuild replaces the whole sorted set with scores. The new set is staged
// under a temporary key and renamed in one transaction so readers never see
// a partial ranking.
func (r *RankIndex) Rebuild(ctx context.Context, scores map[string]int64) error {
	if len(scores) == 0 {
		if err := r.client.Del(ctx, r.key).Err(); err != nil {
			return unavailable("clearing ranking", err)
		}
		return nil
	}

	tmp := fmt.Sprintf("%s:rebuild:%s", r.key, uuid.NewString())
	members := make([]redis.Z, 0, len(scores))
	for playerID, score := range scores {
		members = append(members, redis.Z{Score: float64(score), Member: playerID})
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(members); start += rebuildChunk {
			end := min(start+rebuildChunk, len(members))
			pipe.ZAdd(ctx, tmp, members[start:end]...)
		}
		pipe.Rename(ctx, tmp, r.key)
		return nil
	})
	if err != nil {
		return unavailable("rebuilding ranking", err)
	}

	r.logger.Debug("rank index rebuilt", "key", r.key, "player_count", len(members))
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRankIndexUnavailable, err)
}
