package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
	"github.com/player-leaderboard/internal/metrics"
)

// PlayerStore is the durable source of truth for player records
type PlayerStore interface {
	InsertPlayer(ctx context.Context, p domain.Player) (*domain.Player, error)
	UpdatePlayer(ctx context.Context, id string, patch domain.PlayerPatch) (*domain.Player, error)
	FindPlayer(ctx context.Context, id string) (*domain.Player, error)
	FindPlayerByUsername(ctx context.Context, username string) (*domain.Player, error)
	FindPlayersByIDs(ctx context.Context, ids []string) ([]domain.Player, error)
	DeletePlayer(ctx context.Context, id string) error
	ListPlayers(ctx context.Context, sort domain.PlayerSort) ([]domain.Player, error)
	TopPlayersByScore(ctx context.Context, limit int) ([]domain.Player, error)
	PlayerScores(ctx context.Context) (map[string]int64, error)
}

// RankIndex is the ordered score cache. Any error means the cache could not
// serve the call; an empty result is reported as a nil error.
type RankIndex interface {
	SetScore(ctx context.Context, playerID string, score int64) error
	Remove(ctx context.Context, playerID string) error
	TopDesc(ctx context.Context, limit int) ([]domain.RankEntry, error)
	Rebuild(ctx context.Context, scores map[string]int64) error
}

// Notifier receives committed player mutations
type Notifier interface {
	PublishPlayerEvent(event domain.PlayerEvent)
}

// RankingService is the single path for player mutations and ranked reads.
// Mutations write to the store first and then mirror the score into the
// rank index; ranked reads prefer the index and fall back to the store.
type RankingService struct {
	store    PlayerStore
	index    RankIndex
	config   *config.RankingConfig
	logger   *slog.Logger
	validate *validator.Validate
	notifier Notifier
	recorder metrics.Recorder
	rebuilds singleflight.Group
	now      func() time.Time
}

// NewRankingService creates a ranking service. index may be nil, in which
// case every ranked read is served by the store.
func NewRankingService(
	store PlayerStore,
	index RankIndex,
	cfg *config.RankingConfig,
	logger *slog.Logger,
) *RankingService {
	return &RankingService{
		store:    store,
		index:    index,
		config:   cfg,
		logger:   logger,
		validate: newValidator(),
		recorder: (*metrics.Metrics)(nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier sets the receiver of player events
func (s *RankingService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRecorder sets the metrics recorder
func (s *RankingService) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// HasRankIndex reports whether a rank index is configured
func (s *RankingService) HasRankIndex() bool {
	return s.index != nil
}

// CreatePlayer stores a new player and mirrors its score
func (s *RankingService) CreatePlayer(ctx context.Context, in domain.PlayerInput) (*domain.Player, error) {
	normalizeInput(&in)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	created, err := s.store.InsertPlayer(ctx, in.ToPlayer(uuid.NewString(), s.now()))
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	s.mirrorScore(ctx, created.ID, created.TotalScore)
	s.publish(domain.PlayerEvent{Type: domain.PlayerCreated, PlayerID: created.ID, Player: created})
	return created, nil
}

// UpdatePlayer applies a partial update and mirrors the resulting score
func (s *RankingService) UpdatePlayer(ctx context.Context, id string, patch domain.PlayerPatch) (*domain.Player, error) {
	normalizePatch(&patch)
	if err := s.validate.Struct(patch); err != nil {
		return nil, validationError(err)
	}

	updated, err := s.store.UpdatePlayer(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating player: %w", err)
	}

	s.mirrorScore(ctx, updated.ID, updated.TotalScore)
	s.publish(domain.PlayerEvent{Type: domain.PlayerUpdated, PlayerID: updated.ID, Player: updated})
	return updated, nil
}

// DeletePlayer removes a player from the store and then from the index
func (s *RankingService) DeletePlayer(ctx context.Context, id string) error {
	if err := s.store.DeletePlayer(ctx, id); err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}

	s.evict(ctx, id)
	s.publish(domain.PlayerEvent{Type: domain.PlayerDeleted, PlayerID: id})
	return nil
}

// GetPlayer returns a single player
func (s *RankingService) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	p, err := s.store.FindPlayer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// ListPlayers returns a full snapshot of players for administrative views.
// Unknown sort keys fall back to creation time.
func (s *RankingService) ListPlayers(ctx context.Context, sort domain.PlayerSort) ([]domain.Player, error) {
	sort = domain.NewPlayerSort(string(sort.Key), sort.Desc)
	players, err := s.store.ListPlayers(ctx, sort)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

// TopRanked returns up to limit players by descending score. The result may
// be shorter than limit when ranked ids no longer exist in the store.
func (s *RankingService) TopRanked(ctx context.Context, limit int) ([]domain.Player, error) {
	limit = s.ClampLimit(limit)

	if s.index != nil {
		players, served, err := s.topFromIndex(ctx, limit)
		if err != nil {
			return nil, err
		}
		if served {
			s.recorder.RankedRead(metrics.SourceIndex)
			return players, nil
		}
	}

	players, err := s.store.TopPlayersByScore(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top players: %w", err)
	}
	s.recorder.RankedRead(metrics.SourceStore)
	return players, nil
}

// ClampLimit maps a requested limit onto [1, MaxLimit]; non-positive values
// use DefaultLimit
func (s *RankingService) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return limit
}

// topFromIndex reads the ranking from the index and hydrates it from the
// store. served is false when the index failed or was empty; err is only
// set for store failures.
func (s *RankingService) topFromIndex(ctx context.Context, limit int) (players []domain.Player, served bool, err error) {
	cacheCtx, cancel := context.WithTimeout(ctx, s.config.CacheTimeout)
	entries, err := s.index.TopDesc(cacheCtx, limit)
	cancel()
	s.recorder.RankIndexOp("top", err)
	if err != nil {
		s.logger.Warn("rank index read failed, serving from store", "error", err)
		return nil, false, nil
	}
	if len(entries) == 0 {
		return nil, false, nil
	}

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.PlayerID
	}

	found, err := s.store.FindPlayersByIDs(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("hydrating ranked players: %w", err)
	}
	byID := make(map[string]domain.Player, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	players = make([]domain.Player, 0, len(entries))
	for _, entry := range entries {
		if p, ok := byID[entry.PlayerID]; ok {
			players = append(players, p)
		}
	}

	if dangling := len(entries) - len(players); dangling > 0 {
		s.logger.Debug("dropped ranked ids missing from store", "count", dangling)
		s.recorder.DanglingIDs(dangling)
	}
	return players, true, nil
}

// RebuildRankIndex replaces the index contents with the store's scores and
// returns the number of players mirrored. Concurrent calls share one run.
func (s *RankingService) RebuildRankIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, fmt.Errorf("rebuilding rank index: %w: not configured", domain.ErrRankIndexUnavailable)
	}

	v, err, shared := s.rebuilds.Do("rebuild", func() (any, error) {
		// detached so one caller leaving does not fail the others
		runCtx := context.WithoutCancel(ctx)
		started := time.Now()

		scores, err := s.store.PlayerScores(runCtx)
		if err != nil {
			return 0, fmt.Errorf("reading player scores: %w", err)
		}
		err = s.index.Rebuild(runCtx, scores)
		s.recorder.RankIndexOp("rebuild", err)
		if err != nil {
			return 0, fmt.Errorf("rebuilding rank index: %w", err)
		}

		s.logger.Info("rank index rebuilt", "player_count", len(scores), "duration", time.Since(started))
		return len(scores), nil
	})
	if err != nil {
		return 0, err
	}
	if shared {
		s.logger.Debug("joined in-flight rank index rebuild")
	}
	return v.(int), nil
}

// ApplyScoreUpdate resolves the addressed player and applies the update
// through the normal write-through path
func (s *RankingService) ApplyScoreUpdate(ctx context.Context, update domain.ScoreUpdate) (*domain.Player, error) {
	id := update.PlayerID
	if id == "" {
		if update.Username == "" {
			return nil, fmt.Errorf("%w: player_id or username is required", domain.ErrValidation)
		}
		p, err := s.store.FindPlayerByUsername(ctx, update.Username)
		if err != nil {
			return nil, fmt.Errorf("resolving player %q: %w", update.Username, err)
		}
		id = p.ID
	}
	return s.UpdatePlayer(ctx, id, update.Patch())
}

// ApplyScoreUpdates applies a batch, logging and skipping failed updates.
// It returns the number applied.
func (s *RankingService) ApplyScoreUpdates(ctx context.Context, updates []domain.ScoreUpdate) int {
	applied := 0
	for _, update := range updates {
		if _, err := s.ApplyScoreUpdate(ctx, update); err != nil {
			s.logger.Error("failed to apply score update",
				"player_id", update.PlayerID,
				"username", update.Username,
				"error", err,
			)
			continue
		}
		applied++
	}
	return applied
}

// mirrorScore writes a committed score to the index. Failures leave the
// index stale for this player until the next write or rebuild and are not
// reported to the caller.
func (s *RankingService) mirrorScore(ctx context.Context, playerID string, score int64) {
	if s.index == nil {
		return
	}
	cacheCtx, cancel := s.writeThroughContext(ctx)
	defer cancel()

	err := s.index.SetScore(cacheCtx, playerID, score)
	s.recorder.RankIndexOp("set", err)
	if err != nil {
		s.logger.Warn("rank index write-through failed", "op", "set", "player_id", playerID, "error", err)
	}
}

func (s *RankingService) evict(ctx context.Context, playerID string) {
	if s.index == nil {
		return
	}
	cacheCtx, cancel := s.writeThroughContext(ctx)
	defer cancel()

	err := s.index.Remove(cacheCtx, playerID)
	s.recorder.RankIndexOp("remove", err)
	if err != nil {
		s.logger.Warn("rank index write-through failed", "op", "remove", "player_id", playerID, "error", err)
	}
}

// writeThroughContext outlives a cancelled request: once the store has
// committed, the mirror step should still run, bounded by CacheTimeout.
func (s *RankingService) writeThroughContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.config.CacheTimeout)
}

func (s *RankingService) publish(event domain.PlayerEvent) {
	if s.notifier != nil {
		s.notifier.PublishPlayerEvent(event)
	}
}
