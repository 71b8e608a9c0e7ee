package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/player-leaderboard/internal/auth"
	"github.com/player-leaderboard/internal/config"
	"github.com/player-leaderboard/internal/domain"
	"github.com/player-leaderboard/internal/metrics"
	"github.com/player-leaderboard/internal/websocket"
)

// RankingService is the player and ranking API the handlers expose
type RankingService interface {
	CreatePlayer(ctx context.Context, in domain.PlayerInput) (*domain.Player, error)
	UpdatePlayer(ctx context.Context, id string, patch domain.PlayerPatch) (*domain.Player, error)
	DeletePlayer(ctx context.Context, id string) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	ListPlayers(ctx context.Context, sort domain.PlayerSort) ([]domain.Player, error)
	TopRanked(ctx context.Context, limit int) ([]domain.Player, error)
	RebuildRankIndex(ctx context.Context) (int, error)
}

// Authenticator signs users in and verifies their tokens
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

// Pinger reports store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service RankingService
	auth    Authenticator
	hub     *websocket.Hub
	config  *config.Config
	logger  *slog.Logger

	db         Pinger
	cacheState func() string
	metrics    *metrics.Metrics
	limiter    *loginLimiter
}

// NewHandler creates a new HTTP handler. hub may be nil to disable /ws.
func NewHandler(
	service RankingService,
	authn Authenticator,
	hub *websocket.Hub,
	cfg *config.Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		service: service,
		auth:    authn,
		hub:     hub,
		config:  cfg,
		logger:  logger,
		limiter: newLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst),
	}
}

// SetReadiness sets the dependencies reported by /ready. cacheState may be
// nil when no rank index is configured.
func (h *Handler) SetReadiness(db Pinger, cacheState func() string) {
	h.db = db
	h.cacheState = cacheState
}

// SetMetrics enables request counting and the metrics endpoint
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(h.corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}
	if h.metrics != nil && h.config.Metrics.Enabled {
		r.Method(http.MethodGet, h.config.Metrics.Path, h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.With(h.requireAuth).Get("/me", h.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Get("/leaderboard/top", h.GetTop)

			r.Route("/players", func(r chi.Router) {
				r.Get("/", h.ListPlayers)
				r.With(h.requireAdmin).Post("/", h.CreatePlayer)

				r.Route("/{playerID}", func(r chi.Router) {
					r.Use(h.validPlayerID)
					r.Get("/", h.GetPlayer)
					r.With(h.requireAdmin).Put("/", h.UpdatePlayer)
					r.With(h.requireAdmin).Delete("/", h.DeletePlayer)
				})
			})

			r.With(h.requireAdmin).Post("/admin/rank-index/rebuild", h.RebuildRankIndex)
		})
	})

	return r
}

// corsMiddleware allows the dashboard origin to call the API with cookies
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == h.config.Server.ClientOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through slog and counts it by route
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.HTTPRequest(route, r.Method, status)
		h.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error onto a status code. Unexpected
// errors are logged and hidden from the caller.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, unwrapSentinel(err))
	case errors.Is(err, domain.ErrForbidden):
		h.writeError(w, http.StatusForbidden, domain.ErrForbidden)
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrNotFound)
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, domain.ErrConflict)
	case errors.Is(err, domain.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
	case errors.Is(err, domain.ErrRankIndexUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrRankIndexUnavailable)
	default:
		h.logger.Error("request failed",
			"op", op,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// unwrapSentinel hides token parsing details from clients
func unwrapSentinel(err error) error {
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return domain.ErrInvalidCredentials
	}
	return domain.ErrUnauthorized
}

// decodeJSON decodes a request body, rejecting unknown fields
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck reports readiness. Only the store gates readiness; the rank
// index state is informational because reads fall back to the store.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ready", "rank_index": "disabled"}
	if h.cacheState != nil {
		status["rank_index"] = h.cacheState()
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			status["status"] = "not ready"
			h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "database unavailable"})
			return
		}
	}

	h.writeSuccess(w, http.StatusOK, status)
}
