package market

import (
	"encoding/json"
	"time"
)

const (
	EventLeadPosted             = "LeadPosted"
	EventLeadDispatch           = "LeadDispatch"
	EventLeadAccepted           = "LeadAccepted"
	EventLeadExpired            = "LeadExpired"
	EventPaymentVerified        = "PaymentVerified"
	EventPaymentFailed          = "PaymentFailed"
	EventPositionCommitted      = "PositionCommitted"
	EventReconciliationRequired = "ReconciliationRequired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"` // RFC3339
	Producer      string          `json:"producer"`    // e.g., "marketplace-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // lead_id or order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload types per event ----

// LeadPostedPayload carries the lead summary only. Customer contact is
// never published; it is released to the single accept winner.
type LeadPostedPayload struct {
	LeadID         string `json:"lead_id"`
	CategoryID     string `json:"category_id"`
	Area           string `json:"area"`
	BudgetMinPaise int64  `json:"budget_min_paise"`
	BudgetMaxPaise int64  `json:"budget_max_paise"`
	Description    string `json:"description,omitempty"`
}

// LeadDispatchPayload is one fan-out unit: lead summary addressed to a
// single eligible freelancer. The notification transport consumes it.
type LeadDispatchPayload struct {
	LeadID         string `json:"lead_id"`
	FreelancerID   string `json:"freelancer_id"`
	CategoryID     string `json:"category_id"`
	Area           string `json:"area"`
	BudgetMinPaise int64  `json:"budget_min_paise"`
	BudgetMaxPaise int64  `json:"budget_max_paise"`
}

type LeadAcceptedPayload struct {
	LeadID       string `json:"lead_id"`
	FreelancerID string `json:"freelancer_id"`
}

type LeadExpiredPayload struct {
	LeadID string `json:"lead_id"`
}

type PaymentVerifiedPayload struct {
	OrderID          string  `json:"order_id"`
	FreelancerID     string  `json:"freelancer_id"`
	Purpose          Purpose `json:"purpose"`
	AmountPaise      int64   `json:"amount_paise"`
	GatewayPaymentID string  `json:"gateway_payment_id"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // e.g., SIGNATURE_MISMATCH, HOLD_EXPIRED
}

type PositionCommittedPayload struct {
	OrderID    string    `json:"order_id"`
	HolderID   string    `json:"holder_id"`
	CategoryID string    `json:"category_id"`
	Area       string    `json:"area"`
	Rank       Rank      `json:"rank"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ReconciliationRequiredPayload struct {
	OrderID          string `json:"order_id"`
	FreelancerID     string `json:"freelancer_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Reason           string `json:"reason"`
}
