package market

import "time"

// Rank is one of three ordinal position slots per category+area that
// determines search-result priority.
type Rank int

const (
	RankFirst  Rank = 1
	RankSecond Rank = 2
	RankThird  Rank = 3
)

func (r Rank) Valid() bool { return r >= RankFirst && r <= RankThird }

// Plan is a subscription entitlement type.
type Plan string

const (
	PlanLead     Plan = "lead"
	PlanPosition Plan = "position"
	PlanBadge    Plan = "badge"
)

// PositionSlot is a committed rank holding for a (category, area) pair.
// At most one holder per (CategoryID, Area, Rank); a slot past ExpiresAt
// is treated as vacant even before physical removal.
type PositionSlot struct {
	CategoryID string
	Area       string
	Rank       Rank
	HolderID   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (s PositionSlot) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Reservation is a time-boxed claim on a slot key pending payment
// confirmation. The ID doubles as the reservation token handed to the
// payment flow.
type Reservation struct {
	ID           string
	CategoryID   string
	Area         string
	Rank         Rank
	FreelancerID string
	Status       ReservationStatus
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Live reports whether the hold is still claimable: held and not lapsed.
func (r Reservation) Live(now time.Time) bool {
	return r.Status == ReservationHeld && r.ExpiresAt.After(now)
}

// Entitlement is an active subscription right. Position entitlements are
// scoped to a (CategoryID, Area, Rank); lead and badge entitlements
// carry an empty scope. Entitlements are never mutated in place: a
// renewal supersedes the previous row.
type Entitlement struct {
	ID           string
	FreelancerID string
	Plan         Plan
	BadgeType    string
	CategoryID   string
	Area         string
	Rank         Rank
	EndDate      time.Time
	CreatedAt    time.Time
}

func (e Entitlement) Active(now time.Time) bool {
	return e.EndDate.After(now)
}

type LeadStatus string

const (
	LeadOpen      LeadStatus = "OPEN"
	LeadAccepted  LeadStatus = "ACCEPTED"
	LeadExpired   LeadStatus = "EXPIRED"
	LeadWithdrawn LeadStatus = "WITHDRAWN"
)

// Lead is a customer-posted job requirement broadcast to eligible
// freelancers. Status moves OPEN -> ACCEPTED exactly once; once
// accepted, AcceptedBy never changes.
type Lead struct {
	ID              string
	CustomerID      string
	CategoryID      string
	Area            string
	BudgetMinPaise  int64
	BudgetMaxPaise  int64
	Description     string
	Status          LeadStatus
	AcceptedBy      string
	CustomerContact string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Purpose identifies what a payment order buys.
type Purpose string

const (
	PurposeLeadPlan Purpose = "LEAD_PLAN"
	PurposePosition Purpose = "POSITION"
	PurposeBadge    Purpose = "BADGE"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeLeadPlan, PurposePosition, PurposeBadge:
		return true
	}
	return false
}

// PaymentOrder tracks one purchase through the gateway round trip.
// A VERIFIED order corresponds to exactly one committed slot or
// entitlement. Terminal states are immutable.
type PaymentOrder struct {
	ID           string
	FreelancerID string
	Purpose      Purpose
	AmountPaise  int64
	BadgeType    string

	// Target slot key, set for position purchases.
	CategoryID    string
	Area          string
	Rank          Rank
	ReservationID string

	Status           OrderStatus
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string

	// NeedsReconciliation marks money captured with the resource lost
	// (hold lapsed before the verified commit). Surfaced to operators,
	// never silently dropped.
	NeedsReconciliation bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
