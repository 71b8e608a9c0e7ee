package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
)

const uniqueViolation = "23505"

// playerColumns is the select list matching scanPlayer
const playerColumns = `id, username, total_score, level, games_played, games_won, status,
	avatar_url, country, last_played, created_at, updated_at`

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository. The first ping is
// retried with exponential backoff for up to cfg.ConnectTimeout so the
// service can start alongside its database.
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = cfg.ConnectTimeout
	err = backoff.RetryNotify(
		func() error { return pool.Ping(ctx) },
		backoff.WithContext(retry, ctx),
		func(err error, wait time.Duration) {
			logger.Warn("postgres not reachable, retrying", "error", err, "wait", wait)
		},
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			total_score BIGINT NOT NULL DEFAULT 0 CHECK (total_score >= 0),
			level INT NOT NULL DEFAULT 1 CHECK (level >= 1),
			games_played INT NOT NULL DEFAULT 0 CHECK (games_played >= 0),
			games_won INT NOT NULL DEFAULT 0 CHECK (games_won >= 0),
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			avatar_url TEXT,
			country VARCHAR(64),
			last_played TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			full_name VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL DEFAULT 'user',
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_score ON players(total_score DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_players_created ON players(created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row scanner) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.TotalScore,
		&p.Level,
		&p.GamesPlayed,
		&p.GamesWon,
		&p.Status,
		&p.AvatarURL,
		&p.Country,
		&p.LastPlayed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPlayers(rows pgx.Rows) ([]domain.Player, error) {
	defer rows.Close()

	players := make([]domain.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating players: %w", err)
	}
	return players, nil
}

// InsertPlayer stores a new player. A duplicate username yields
// domain.ErrConflict.
func (r *Repository) InsertPlayer(ctx context.Context, p domain.Player) (*domain.Player, error) {
	query := `
		INSERT INTO players (id, username, total_score, level, games_played, games_won, status,
			avatar_url, country, last_played, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + playerColumns
	row := r.pool.QueryRow(ctx, query,
		p.ID,
		p.Username,
		p.TotalScore,
		p.Level,
		p.GamesPlayed,
		p.GamesWon,
		string(p.Status),
		p.AvatarURL,
		p.Country,
		p.LastPlayed,
		p.CreatedAt,
	)
	created, err := scanPlayer(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("inserting player: %w", err)
	}
	return created, nil
}

// UpdatePlayer applies a partial update in one statement so concurrent
// writers are serialized by the row lock
func (r *Repository) UpdatePlayer(ctx context.Context, id string, patch domain.PlayerPatch) (*domain.Player, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	query := `
		UPDATE players SET
			total_score = COALESCE($2, total_score),
			level = COALESCE($3, level),
			games_played = COALESCE($4, games_played),
			games_won = COALESCE($5, games_won),
			status = COALESCE($6, status),
			avatar_url = COALESCE($7, avatar_url),
			country = COALESCE($8, country),
			last_played = COALESCE($9, last_played),
			updated_at = $10
		WHERE id = $1
		RETURNING ` + playerColumns
	row := r.pool.QueryRow(ctx, query,
		id,
		patch.TotalScore,
		patch.Level,
		patch.GamesPlayed,
		patch.GamesWon,
		status,
		patch.AvatarURL,
		patch.Country,
		patch.LastPlayed,
		time.Now(),
	)
	updated, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("updating player: %w", err)
	}
	return updated, nil
}

// FindPlayer retrieves a player by ID
func (r *Repository) FindPlayer(ctx context.Context, id string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// FindPlayerByUsername retrieves a player by exact username
func (r *Repository) FindPlayerByUsername(ctx context.Context, username string) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE username = $1`
	p, err := scanPlayer(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting player by username: %w", err)
	}
	return p, nil
}

// FindPlayersByIDs returns the players that exist among ids, in no
// particular order
func (r *Repository) FindPlayersByIDs(ctx context.Context, ids []string) ([]domain.Player, error) {
	if len(ids) == 0 {
		return []domain.Player{}, nil
	}
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("getting players by ids: %w", err)
	}
	return collectPlayers(rows)
}

// DeletePlayer removes a player
func (r *Repository) DeletePlayer(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM players WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPlayers returns every player in the requested order
func (r *Repository) ListPlayers(ctx context.Context, sort domain.PlayerSort) ([]domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players ORDER BY ` + orderByClause(sort)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return collectPlayers(rows)
}

// TopPlayersByScore returns up to limit players by descending score. Ties
// are ordered by descending id, which matches the sorted set's reverse
// lexicographic member order.
func (r *Repository) TopPlayersByScore(ctx context.Context, limit int) ([]domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players ORDER BY total_score DESC, id DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top players: %w", err)
	}
	return collectPlayers(rows)
}

// PlayerScores returns every player's total score (for rebuilding the rank
// index)
func (r *Repository) PlayerScores(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, total_score FROM players`)
	if err != nil {
		return nil, fmt.Errorf("getting all scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int64)
	for rows.Next() {
		var id string
		var score int64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scores: %w", err)
	}
	return scores, nil
}

// orderByClause translates an allow-listed sort into SQL. Only constant
// column names reach the query.
func orderByClause(sort domain.PlayerSort) string {
	var column string
	switch sort.Key {
	case domain.SortByTotalScore:
		column = "total_score"
	case domain.SortByLastPlayed:
		column = "last_played"
	case domain.SortByLevel:
		column = "level"
	case domain.SortByUsername:
		column = "username"
	default:
		column = "created_at"
	}

	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}
	return fmt.Sprintf("%s %s NULLS LAST, id %s", column, direction, direction)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
