package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
)

type fakeUsers map[string]*domain.User

func (f fakeUsers) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	u, ok := f[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	hash, err := HashPassword("admin")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := fakeUsers{
		"admin@example.com": {
			ID:           "u-1",
			Email:        "admin@example.com",
			FullName:     "Admin",
			Role:         domain.RoleAdmin,
			PasswordHash: hash,
		},
	}
	cfg := &config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour}
	return NewService(users, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc := newTestService(t)

	token, user, err := svc.Login(context.Background(), "  Admin@Example.com ", "admin")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.ID != "u-1" {
		t.Fatalf("unexpected user: %+v", user)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.UserID != "u-1" || claims.Email != "admin@example.com" || !claims.IsAdmin() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "admin@example.com", password: "nope"},
		{name: "unknown email", email: "ghost@example.com", password: "admin"},
		{name: "empty password", email: "admin@example.com", password: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tc.email, tc.password)
			if !errors.Is(err, domain.ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
		})
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := newTestService(t)
	user := &domain.User{ID: "u-2", Email: "user@example.com", Role: domain.RoleUser}

	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Verify(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected expired token to be unauthorized, got %v", err)
	}
	svc.now = time.Now

	other := NewService(fakeUsers{}, &config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour}, svc.logger)
	if _, err := other.Verify(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected foreign token to be unauthorized, got %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-2"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("build unsigned token: %v", err)
	}
	if _, err := svc.Verify(unsigned); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unsigned token to be unauthorized, got %v", err)
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no claims in empty context")
	}
	ctx := NewContext(context.Background(), &Claims{UserID: "u-3"})
	claims, ok := FromContext(ctx)
	if !ok || claims.UserID != "u-3" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
