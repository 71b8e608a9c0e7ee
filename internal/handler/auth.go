package handler

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/player-leaderboard/internal/auth"
	"github.com/player-leaderboard/internal/domain"
)

const tokenCookie = "token"

// maxTrackedClients bounds the limiter table; it is reset when exceeded
const maxTrackedClients = 10000

// loginLimiter throttles login attempts per client address
type loginLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	return &loginLimiter{
		clients: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = lim
	}
	return lim.Allow()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Login verifies credentials, sets the token cookie and returns the token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.allow(clientAddr(r)) {
		h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.auth.TTL()),
	})
	h.writeSuccess(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// Logout clears the token cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	h.writeSuccess(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me returns the identity carried by the caller's token
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	h.writeSuccess(w, http.StatusOK, domain.User{
		ID:       claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	})
}

// requireAuth accepts a token from the cookie or a Bearer header
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(tokenCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		claims, err := h.auth.Verify(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), claims)))
	})
}

// requireAdmin must run after requireAuth
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok || !claims.IsAdmin() {
			h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// clientAddr is the caller's IP; RealIP has already applied proxy headers
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
