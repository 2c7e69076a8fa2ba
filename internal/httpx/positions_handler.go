package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/taskora/marketplace/internal/market"
	"github.com/taskora/marketplace/internal/redisx"
	"github.com/taskora/marketplace/internal/slots"
)

// SlotRegistry is the slice of slots.Registry the HTTP layer needs.
type SlotRegistry interface {
	CheckAvailability(ctx context.Context, categoryID, area, freelancerID string) (slots.Availability, error)
	Reserve(ctx context.Context, categoryID, area string, rank market.Rank, freelancerID string) (market.Reservation, error)
}

type PositionsHandler struct {
	Registry SlotRegistry
	Redis    *redis.Client
}

func (h *PositionsHandler) Register(r *chi.Mux) {
	r.Get("/positions/availability/{categoryID}/{area}", h.availability)
	r.Post("/positions/reserve", h.reserve)
}

type availabilityResp struct {
	TakenRanks  []market.Rank `json:"taken_ranks"`
	CurrentRank market.Rank   `json:"current_rank,omitempty"`
}

func (h *PositionsHandler) availability(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "categoryID")
	area := chi.URLParam(r, "area")
	freelancerID := r.Header.Get(HeaderFreelancerID)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Anonymous reads can be served from cache; the per-freelancer rank
	// view always goes to the registry.
	cacheKey := fmt.Sprintf(redisx.KeyAvailability, categoryID, area)
	if freelancerID == "" && h.Redis != nil {
		if s, err := h.Redis.Get(ctx, cacheKey).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	av, err := h.Registry.CheckAvailability(ctx, categoryID, area, freelancerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := availabilityResp{TakenRanks: av.TakenRanks, CurrentRank: av.CurrentRank}
	if freelancerID == "" && h.Redis != nil {
		if b, err := json.Marshal(resp); err == nil {
			_ = h.Redis.Set(ctx, cacheKey, b, redisx.TTLAvailability).Err()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type reserveReq struct {
	CategoryID string      `json:"category_id"`
	Area       string      `json:"area"`
	Rank       market.Rank `json:"rank"`
}

type reserveResp struct {
	ReservationID string      `json:"reservation_id"`
	Rank          market.Rank `json:"rank"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

func (h *PositionsHandler) reserve(w http.ResponseWriter, r *http.Request) {
	freelancerID := r.Header.Get(HeaderFreelancerID)
	if freelancerID == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRequest, "freelancer identity required")
		return
	}

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid json")
		return
	}
	if req.CategoryID == "" || req.Area == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "category_id and area are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resv, err := h.Registry.Reserve(ctx, req.CategoryID, req.Area, req.Rank, freelancerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// best effort: the cached availability just changed
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyAvailability, req.CategoryID, req.Area)).Err()
	}
	writeJSON(w, http.StatusOK, reserveResp{
		ReservationID: resv.ID,
		Rank:          resv.Rank,
		ExpiresAt:     resv.ExpiresAt,
	})
}
