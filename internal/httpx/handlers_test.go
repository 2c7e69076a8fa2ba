package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskora/marketplace/internal/leads"
	"github.com/taskora/marketplace/internal/market"
	"github.com/taskora/marketplace/internal/payments"
	"github.com/taskora/marketplace/internal/slots"
)

type stubRegistry struct {
	availability slots.Availability
	reservation  market.Reservation
	err          error
}

func (s *stubRegistry) CheckAvailability(ctx context.Context, categoryID, area, freelancerID string) (slots.Availability, error) {
	return s.availability, s.err
}

func (s *stubRegistry) Reserve(ctx context.Context, categoryID, area string, rank market.Rank, freelancerID string) (market.Reservation, error) {
	if s.err != nil {
		return market.Reservation{}, s.err
	}
	return s.reservation, nil
}

type stubPayments struct {
	order market.PaymentOrder
	err   error
}

func (s *stubPayments) CreateOrder(ctx context.Context, in payments.CreateOrderInput) (market.PaymentOrder, error) {
	return s.order, s.err
}

func (s *stubPayments) Verify(ctx context.Context, cb payments.VerifyCallback) (market.PaymentOrder, error) {
	return s.order, s.err
}

func (s *stubPayments) GetOrder(ctx context.Context, id string) (market.PaymentOrder, error) {
	return s.order, s.err
}

type stubLeads struct {
	lead market.Lead
	err  error
}

func (s *stubLeads) Post(ctx context.Context, in leads.PostInput) (market.Lead, error) {
	return s.lead, s.err
}

func (s *stubLeads) Withdraw(ctx context.Context, leadID, customerID string) error {
	return s.err
}

type stubAccept struct {
	contact string
	err     error
}

func (s *stubAccept) Accept(ctx context.Context, leadID, freelancerID string) (string, error) {
	return s.contact, s.err
}

func doRequest(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPositionsHandler_Availability(t *testing.T) {
	r := NewRouter()
	h := &PositionsHandler{Registry: &stubRegistry{
		availability: slots.Availability{TakenRanks: []market.Rank{1, 3}, CurrentRank: 3},
	}}
	h.Register(r)

	rec := doRequest(t, r, http.MethodGet, "/positions/availability/plumbing/mumbai-andheri", "",
		map[string]string{HeaderFreelancerID: "f-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp availabilityResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.TakenRanks) != 2 || resp.CurrentRank != 3 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPositionsHandler_Reserve(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	reg := &stubRegistry{reservation: market.Reservation{
		ID: "res-1", Rank: 2, ExpiresAt: expiry, Status: market.ReservationHeld,
	}}
	r := NewRouter()
	(&PositionsHandler{Registry: reg}).Register(r)

	body := `{"category_id":"plumbing","area":"mumbai-andheri","rank":2}`

	t.Run("no identity", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/positions/reserve", body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("reserved", func(t *testing.T) {
		rec := doRequest(t, r, http.MethodPost, "/positions/reserve", body,
			map[string]string{HeaderFreelancerID: "f-1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp reserveResp
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ReservationID != "res-1" || resp.Rank != 2 {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("rank taken", func(t *testing.T) {
		r := NewRouter()
		(&PositionsHandler{Registry: &stubRegistry{err: market.ErrConflict}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/positions/reserve", body,
			map[string]string{HeaderFreelancerID: "f-1"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		var resp errorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Code != codeConflict {
			t.Fatalf("code = %q, want %q", resp.Code, codeConflict)
		}
	})
}

func TestPaymentsHandler_CreateOrder(t *testing.T) {
	svc := &stubPayments{order: market.PaymentOrder{
		ID: "ord-1", GatewayOrderID: "gw-1", AmountPaise: 199900,
		Status: market.OrderReserved, ReservationID: "res-1",
	}}
	r := NewRouter()
	(&PaymentsHandler{Service: svc}).Register(r)

	body := `{"purpose":"POSITION","category_id":"plumbing","area":"mumbai-andheri","rank":1}`
	rec := doRequest(t, r, http.MethodPost, "/payments/create-order", body,
		map[string]string{HeaderFreelancerID: "f-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp orderResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AmountPaise != 199900 || resp.GatewayOrderID != "gw-1" || resp.Currency != "INR" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestPaymentsHandler_Verify(t *testing.T) {
	body := `{"gateway_order_id":"gw-1","gateway_payment_id":"pay-1","signature":"sig"}`

	t.Run("verified", func(t *testing.T) {
		r := NewRouter()
		(&PaymentsHandler{Service: &stubPayments{order: market.PaymentOrder{
			ID: "ord-1", Status: market.OrderVerified,
		}}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/payments/verify", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		r := NewRouter()
		(&PaymentsHandler{Service: &stubPayments{err: market.ErrSignatureMismatch}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/payments/verify", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var resp errorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Code != codeInvalidSignature {
			t.Fatalf("code = %q, want %q", resp.Code, codeInvalidSignature)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		r := NewRouter()
		(&PaymentsHandler{Service: &stubPayments{}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/payments/verify", `{"signature":"sig"}`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestLeadsHandler_Post(t *testing.T) {
	body := `{"category_id":"plumbing","area":"mumbai-andheri","budget_min_paise":50000,"customer_contact":"+91-98000"}`

	t.Run("accepted for dispatch", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Leads: &stubLeads{lead: market.Lead{ID: "lead-1", Status: market.LeadOpen}}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads", body,
			map[string]string{HeaderCustomerID: "c-1"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}
		var resp postLeadResp
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.LeadID != "lead-1" || resp.Status != market.LeadOpen {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("no identity", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Leads: &stubLeads{}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads", body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestLeadsHandler_Accept(t *testing.T) {
	t.Run("winner gets contact", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Accept: &stubAccept{contact: "+91-98000"}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads/lead-1/accept", "",
			map[string]string{HeaderFreelancerID: "f-1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp acceptResp
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.CustomerContact != "+91-98000" {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("loser sees 409", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Accept: &stubAccept{err: market.ErrAlreadyAccepted}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads/lead-1/accept", "",
			map[string]string{HeaderFreelancerID: "f-2"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		var resp errorResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Code != codeAlreadyAccepted {
			t.Fatalf("code = %q, want %q", resp.Code, codeAlreadyAccepted)
		}
	})

	t.Run("not entitled", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Accept: &stubAccept{err: market.ErrNotEntitled}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads/lead-1/accept", "",
			map[string]string{HeaderFreelancerID: "f-3"})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})
}

func TestLeadsHandler_Withdraw(t *testing.T) {
	t.Run("own open lead", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Leads: &stubLeads{}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads/lead-1/withdraw", "",
			map[string]string{HeaderCustomerID: "c-1"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("already accepted", func(t *testing.T) {
		r := NewRouter()
		(&LeadsHandler{Leads: &stubLeads{err: market.ErrAlreadyAccepted}}).Register(r)
		rec := doRequest(t, r, http.MethodPost, "/leads/lead-1/withdraw", "",
			map[string]string{HeaderCustomerID: "c-1"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})
}
