package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/player-leaderboard/internal/domain"
)

// UpsertUser creates a user or refreshes the name, role and password of the
// user with the same email
func (r *Repository) UpsertUser(ctx context.Context, u domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (id, email, full_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email)
		DO UPDATE SET full_name = $3, role = $4, password_hash = $5
		RETURNING id, email, full_name, role, password_hash, created_at
	`
	var out domain.User
	err := r.pool.QueryRow(ctx, query,
		u.ID,
		u.Email,
		u.FullName,
		string(u.Role),
		u.PasswordHash,
		u.CreatedAt,
	).Scan(&out.ID, &out.Email, &out.FullName, &out.Role, &out.PasswordHash, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &out, nil
}

// FindUserByEmail retrieves a user for login
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT id, email, full_name, role, password_hash, created_at
		FROM users
		WHERE email = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.Role,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}
