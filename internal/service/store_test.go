package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/player-leaderboard/internal/domain"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory PlayerStore
type memStore struct {
	mu       sync.Mutex
	players  map[string]domain.Player
	err      error
	hydrate  error
	lastSort domain.PlayerSort
}

func newMemStore() *memStore {
	return &memStore{players: make(map[string]domain.Player)}
}

// seed inserts a player without going through the service
func (m *memStore) seed(id, username string, score int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.players[id] = domain.Player{
		ID:         id,
		Username:   username,
		TotalScore: score,
		Level:      domain.DefaultLevel,
		Status:     domain.PlayerStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (m *memStore) InsertPlayer(_ context.Context, p domain.Player) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, existing := range m.players {
		if existing.Username == p.Username {
			return nil, domain.ErrConflict
		}
	}
	m.players[p.ID] = p
	return &p, nil
}

func (m *memStore) UpdatePlayer(_ context.Context, id string, patch domain.PlayerPatch) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.players[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p = patch.Apply(p, time.Now().UTC())
	m.players[id] = p
	return &p, nil
}

func (m *memStore) FindPlayer(_ context.Context, id string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.players[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) FindPlayerByUsername(_ context.Context, username string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.players {
		if p.Username == username {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) FindPlayersByIDs(_ context.Context, ids []string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.hydrate != nil {
		return nil, m.hydrate
	}
	out := make([]domain.Player, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.players[id]; ok {
			out = append(out, p)
		}
	}
	// the real store returns rows in no particular order
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) DeletePlayer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.players[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.players, id)
	return nil
}

func (m *memStore) ListPlayers(_ context.Context, s domain.PlayerSort) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.lastSort = s
	out := m.all()
	sort.Slice(out, func(i, j int) bool {
		if s.Desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) TopPlayersByScore(_ context.Context, limit int) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := m.all()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) PlayerScores(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	scores := make(map[string]int64, len(m.players))
	for id, p := range m.players {
		scores[id] = p.TotalScore
	}
	return scores, nil
}

func (m *memStore) all() []domain.Player {
	out := make([]domain.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// failingIndex fails every call and records the limits it was asked for
type failingIndex struct {
	mu     sync.Mutex
	limits []int
	calls  int
}

func (f *failingIndex) record(limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if limit > 0 {
		f.limits = append(f.limits, limit)
	}
	return domain.ErrRankIndexUnavailable
}

func (f *failingIndex) SetScore(context.Context, string, int64) error { return f.record(0) }
func (f *failingIndex) Remove(context.Context, string) error          { return f.record(0) }
func (f *failingIndex) Rebuild(context.Context, map[string]int64) error {
	return f.record(0)
}

func (f *failingIndex) TopDesc(_ context.Context, limit int) ([]domain.RankEntry, error) {
	return nil, f.record(limit)
}

// recordingNotifier collects published events
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.PlayerEvent
}

func (r *recordingNotifier) PublishPlayerEvent(event domain.PlayerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) types() []domain.PlayerEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PlayerEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
