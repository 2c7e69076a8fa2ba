package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskora/marketplace/internal/leads"
	"github.com/taskora/marketplace/internal/market"
)

// LeadService is the slice of leads.Dispatcher the HTTP layer needs.
type LeadService interface {
	Post(ctx context.Context, in leads.PostInput) (market.Lead, error)
	Withdraw(ctx context.Context, leadID, customerID string) error
}

// AcceptService wraps the first-wins accept race.
type AcceptService interface {
	Accept(ctx context.Context, leadID, freelancerID string) (string, error)
}

type LeadsHandler struct {
	Leads  LeadService
	Accept AcceptService
}

func (h *LeadsHandler) Register(r *chi.Mux) {
	r.Post("/leads", h.post)
	r.Post("/leads/{leadID}/accept", h.accept)
	r.Post("/leads/{leadID}/withdraw", h.withdraw)
}

type postLeadReq struct {
	CategoryID      string `json:"category_id"`
	Area            string `json:"area"`
	BudgetMinPaise  int64  `json:"budget_min_paise"`
	BudgetMaxPaise  int64  `json:"budget_max_paise"`
	Description     string `json:"description"`
	CustomerContact string `json:"customer_contact"`
}

type postLeadResp struct {
	LeadID string            `json:"lead_id"`
	Status market.LeadStatus `json:"status"`
}

func (h *LeadsHandler) post(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(HeaderCustomerID)
	if customerID == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRequest, "customer identity required")
		return
	}

	var req postLeadReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	lead, err := h.Leads.Post(ctx, leads.PostInput{
		CustomerID:      customerID,
		CategoryID:      req.CategoryID,
		Area:            req.Area,
		BudgetMinPaise:  req.BudgetMinPaise,
		BudgetMaxPaise:  req.BudgetMaxPaise,
		Description:     req.Description,
		CustomerContact: req.CustomerContact,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Fan-out to matching freelancers happens asynchronously off the
	// posted event, so the customer gets an ack, not a delivery report.
	writeJSON(w, http.StatusAccepted, postLeadResp{LeadID: lead.ID, Status: lead.Status})
}

type acceptResp struct {
	LeadID          string `json:"lead_id"`
	CustomerContact string `json:"customer_contact"`
}

func (h *LeadsHandler) accept(w http.ResponseWriter, r *http.Request) {
	freelancerID := r.Header.Get(HeaderFreelancerID)
	if freelancerID == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRequest, "freelancer identity required")
		return
	}
	leadID := chi.URLParam(r, "leadID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	contact, err := h.Accept.Accept(ctx, leadID, freelancerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResp{LeadID: leadID, CustomerContact: contact})
}

func (h *LeadsHandler) withdraw(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(HeaderCustomerID)
	if customerID == "" {
		writeError(w, http.StatusUnauthorized, codeInvalidRequest, "customer identity required")
		return
	}
	leadID := chi.URLParam(r, "leadID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Leads.Withdraw(ctx, leadID, customerID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lead_id": leadID, "status": string(market.LeadWithdrawn)})
}
