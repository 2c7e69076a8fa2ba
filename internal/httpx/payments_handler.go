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
	"github.com/taskora/marketplace/internal/payments"
	"github.com/taskora/marketplace/internal/redisx"
)

// PaymentService is the slice of payments.Orchestrator the HTTP layer needs.
type PaymentService interface {
	CreateOrder(ctx context.Context, in payments.CreateOrderInput) (market.PaymentOrder, error)
	Verify(ctx context.Context, cb payments.VerifyCallback) (market.PaymentOrder, error)
	GetOrder(ctx context.Context, id string) (market.PaymentOrder, error)
}

type PaymentsHandler struct {
	Service PaymentService
	Redis   *redis.Client
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments/create-order", h.createOrder)
	r.Post("/payments/verify", h.verify)
	r.Get("/payments/orders/{orderID}", h.getOrder)
}

type createOrderReq struct {
	Purpose    market.Purpose `json:"purpose"`
	BadgeType  string         `json:"badge_type,omitempty"`
	CategoryID string         `json:"category_id,omitempty"`
	Area       string         `json:"area,omitempty"`
	Rank       market.Rank    `json:"rank,omitempty"`
}

type orderResp struct {
	OrderID        string             `json:"order_id"`
	GatewayOrderID string             `json:"gateway_order_id"`
	AmountPaise    int64              `json:"amount_paise"`
	Currency       string             `json:"currency"`
	Status         market.OrderStatus `json:"status"`
	ReservationID  string             `json:"reservation_id,omitempty"`
}

func toOrderResp(o market.PaymentOrder) orderResp {
	return orderResp{
		OrderID:        o.ID,
		GatewayOrderID: o.GatewayOrderID,
		AmountPaise:    o.AmountPaise,
		Currency:       "INR",
		Status:         o.Status,
		ReservationID:  o.ReservationID,
	}
}

func (h *PaymentsHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	freelancerID := r.Header.Get(HeaderFreelancerID)
	if freelancerID == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRequest, "freelancer identity required")
		return
	}

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// A retried create with the same Idempotency-Key returns the order
	// already opened instead of charging twice.
	idemKey := r.Header.Get("Idempotency-Key")
	var idemRedisKey string
	if idemKey != "" && h.Redis != nil {
		idemRedisKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, freelancerID, idemKey)
		if orderID, err := h.Redis.Get(ctx, idemRedisKey).Result(); err == nil && orderID != "" {
			if order, err := h.Service.GetOrder(ctx, orderID); err == nil {
				writeJSON(w, http.StatusOK, toOrderResp(order))
				return
			}
		}
	}

	order, err := h.Service.CreateOrder(ctx, payments.CreateOrderInput{
		FreelancerID: freelancerID,
		Purpose:      req.Purpose,
		BadgeType:    req.BadgeType,
		CategoryID:   req.CategoryID,
		Area:         req.Area,
		Rank:         req.Rank,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if idemRedisKey != "" {
		_ = h.Redis.Set(ctx, idemRedisKey, order.ID, redisx.TTLIdempotency).Err()
	}
	writeJSON(w, http.StatusCreated, toOrderResp(order))
}

type verifyReq struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (h *PaymentsHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid json")
		return
	}
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "gateway_order_id, gateway_payment_id and signature are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	order, err := h.Service.Verify(ctx, payments.VerifyCallback{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}

func (h *PaymentsHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Service.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(order))
}
