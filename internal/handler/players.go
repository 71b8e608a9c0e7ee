package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/player-leaderboard/internal/domain"
)

var errInvalidPlayerID = fmt.Errorf("%w: invalid player id", domain.ErrInvalidRequest)

// validPlayerID rejects path ids that are not UUIDs before they reach the
// store
func (h *Handler) validPlayerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "playerID")); err != nil {
			h.writeError(w, http.StatusBadRequest, errInvalidPlayerID)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListPlayers returns every player ordered by the sort parameter
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	sort := domain.ParseSort(r.URL.Query().Get("sort"))

	players, err := h.service.ListPlayers(r.Context(), sort)
	if err != nil {
		h.writeServiceError(w, r, "list players", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, players)
}

// GetPlayer returns a single player
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := h.service.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeServiceError(w, r, "get player", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, player)
}

// CreatePlayer creates a player
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var in domain.PlayerInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	player, err := h.service.CreatePlayer(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "create player", err)
		return
	}

	h.writeSuccess(w, http.StatusCreated, player)
}

// UpdatePlayer applies a partial update to a player
func (h *Handler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var patch domain.PlayerPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	player, err := h.service.UpdatePlayer(r.Context(), chi.URLParam(r, "playerID"), patch)
	if err != nil {
		h.writeServiceError(w, r, "update player", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, player)
}

// DeletePlayer removes a player
func (h *Handler) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePlayer(r.Context(), chi.URLParam(r, "playerID")); err != nil {
		h.writeServiceError(w, r, "delete player", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTop returns the top players by score. limit defaults to 100 and is
// capped at 500.
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidRequest))
			return
		}
		limit = l
	}

	players, err := h.service.TopRanked(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "top players", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, players)
}

// RebuildRankIndex reconstructs the rank index from the store
func (h *Handler) RebuildRankIndex(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.RebuildRankIndex(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "rebuild rank index", err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]int{"player_count": count})
}
