package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/market"
)

// Scope narrows an entitlement lookup. Position entitlements are bound
// to a (CategoryID, Area); lead and badge plans use the zero Scope.
type Scope struct {
	CategoryID string
	Area       string
}

type Repository interface {
	ActiveEntitlement(ctx context.Context, freelancerID string, plan market.Plan, scope Scope, now time.Time) (*market.Entitlement, error)
	Upsert(ctx context.Context, e market.Entitlement) error
	Revoke(ctx context.Context, freelancerID string, plan market.Plan, scope Scope) error
	LapsedPositionEntitlements(ctx context.Context, now time.Time) ([]market.Entitlement, error)
}

// SlotVacater is how the lapse sweep hands slots back; satisfied by
// slots.Registry.
type SlotVacater interface {
	Vacate(ctx context.Context, categoryID, area string, rank market.Rank, holderID string) error
}

// Ledger tracks plan entitlements per freelancer. Expiry is computed at
// read time; no sweep is required for correctness.
type Ledger struct {
	repo  Repository
	clock clock.Clock
	log   *slog.Logger
}

func New(repo Repository, clk clock.Clock, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{repo: repo, clock: clk, log: log}
}

// IsEntitled never errors the caller into a denial it can't distinguish:
// an unknown freelancer is simply not entitled.
func (l *Ledger) IsEntitled(ctx context.Context, freelancerID string, plan market.Plan, scope Scope) (bool, error) {
	e, err := l.repo.ActiveEntitlement(ctx, freelancerID, plan, scope, l.clock.Now())
	if err != nil {
		return false, fmt.Errorf("entitlement lookup: %w", err)
	}
	return e != nil, nil
}

// Grant inserts an entitlement, superseding any active one with the same
// (freelancer, plan, scope). Extends, never stacks.
func (l *Ledger) Grant(ctx context.Context, e market.Entitlement) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}
	if err := l.repo.Upsert(ctx, e); err != nil {
		return fmt.Errorf("grant entitlement: %w", err)
	}
	return nil
}

func (l *Ledger) Revoke(ctx context.Context, freelancerID string, plan market.Plan, scope Scope) error {
	return l.repo.Revoke(ctx, freelancerID, plan, scope)
}

// SweepLapsed proactively vacates slots whose backing position
// entitlement has ended. Safe to run concurrently with reserves: a slot
// past its expiry already reads as vacant.
func (l *Ledger) SweepLapsed(ctx context.Context, slots SlotVacater) error {
	now := l.clock.Now()
	lapsed, err := l.repo.LapsedPositionEntitlements(ctx, now)
	if err != nil {
		return fmt.Errorf("lapsed entitlements: %w", err)
	}
	for _, e := range lapsed {
		if err := slots.Vacate(ctx, e.CategoryID, e.Area, e.Rank, e.FreelancerID); err != nil {
			l.log.Error("vacate lapsed slot", "freelancer_id", e.FreelancerID,
				"category_id", e.CategoryID, "area", e.Area, "rank", int(e.Rank), "err", err)
		}
	}
	return nil
}
