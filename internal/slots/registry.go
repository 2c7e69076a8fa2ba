package slots

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/market"
)

// Repository is the persistence contract for slot and reservation state.
// LockScope must block concurrent reserve transactions on the same
// (category, area) until the holder's transaction ends; it is the
// serialization point for the reserve race, since a vacant scope has no
// rows for SlotsForUpdate to lock.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockScope(ctx context.Context, categoryID, area string) error
	Slots(ctx context.Context, categoryID, area string) ([]market.PositionSlot, error)
	SlotsForUpdate(ctx context.Context, categoryID, area string) ([]market.PositionSlot, error)
	HeldReservations(ctx context.Context, categoryID, area string) ([]market.Reservation, error)
	CreateReservation(ctx context.Context, r market.Reservation) error
	GetReservationForUpdate(ctx context.Context, id string) (market.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status market.ReservationStatus) error
	GetSlot(ctx context.Context, categoryID, area string, rank market.Rank) (*market.PositionSlot, error)
	UpsertSlot(ctx context.Context, s market.PositionSlot) error
	VacateSlot(ctx context.Context, categoryID, area string, rank market.Rank, holderID string) error
}

const defaultHoldTTL = 15 * time.Minute

// Registry is the authoritative map of occupied rank slots per
// (category, area). Reservation is a two-phase handshake: a hold blocks
// competitors while payment is in flight, and lapses on its own if
// checkout is abandoned.
type Registry struct {
	repo    Repository
	clock   clock.Clock
	holdTTL time.Duration
	log     *slog.Logger
}

type Option func(*Registry)

// WithHoldTTL overrides the default hold duration.
func WithHoldTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.holdTTL = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(repo Repository, clk clock.Clock, opts ...Option) *Registry {
	reg := &Registry{
		repo:    repo,
		clock:   clk,
		holdTTL: defaultHoldTTL,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// Availability reports which ranks are taken for a slot key, and the
// caller's own rank there if any. Live holds count as taken so a rank
// mid-payment cannot be re-reserved. Pure read.
type Availability struct {
	TakenRanks  []market.Rank
	CurrentRank market.Rank // 0 when the freelancer holds nothing in scope
}

func (g *Registry) CheckAvailability(ctx context.Context, categoryID, area, freelancerID string) (Availability, error) {
	now := g.clock.Now()

	slotRows, err := g.repo.Slots(ctx, categoryID, area)
	if err != nil {
		return Availability{}, fmt.Errorf("load slots: %w", err)
	}
	holds, err := g.repo.HeldReservations(ctx, categoryID, area)
	if err != nil {
		return Availability{}, fmt.Errorf("load holds: %w", err)
	}

	taken := map[market.Rank]bool{}
	var current market.Rank
	for _, s := range slotRows {
		if s.Expired(now) {
			continue
		}
		taken[s.Rank] = true
		if s.HolderID == freelancerID {
			current = s.Rank
		}
	}
	for _, h := range holds {
		if !h.Live(now) {
			continue
		}
		taken[h.Rank] = true
		if h.FreelancerID == freelancerID && current == 0 {
			current = h.Rank
		}
	}

	av := Availability{CurrentRank: current}
	for r := market.RankFirst; r <= market.RankThird; r++ {
		if taken[r] {
			av.TakenRanks = append(av.TakenRanks, r)
		}
	}
	return av, nil
}

// Reserve places a time-boxed hold on a vacant rank. Fails with
// ErrConflict if the rank has an unexpired holder or live hold, or if
// the freelancer already occupies the (category, area) scope. First
// request wins; a concurrent second request fails, never queues.
func (g *Registry) Reserve(ctx context.Context, categoryID, area string, rank market.Rank, freelancerID string) (market.Reservation, error) {
	if !rank.Valid() {
		return market.Reservation{}, market.ErrInvalidRank
	}
	now := g.clock.Now()
	var result market.Reservation

	err := g.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := g.repo.LockScope(txCtx, categoryID, area); err != nil {
			return err
		}
		slotRows, err := g.repo.SlotsForUpdate(txCtx, categoryID, area)
		if err != nil {
			return err
		}
		for _, s := range slotRows {
			if s.Expired(now) {
				continue
			}
			if s.Rank == rank || s.HolderID == freelancerID {
				return market.ErrConflict
			}
		}

		holds, err := g.repo.HeldReservations(txCtx, categoryID, area)
		if err != nil {
			return err
		}
		for _, h := range holds {
			if !h.Live(now) {
				// Lazy expiry: release the lapsed hold now so the live
				// unique index never counts it against the new one.
				if err := g.repo.UpdateReservationStatus(txCtx, h.ID, market.ReservationReleased); err != nil {
					return err
				}
				continue
			}
			if h.Rank == rank || h.FreelancerID == freelancerID {
				return market.ErrConflict
			}
		}

		result = market.Reservation{
			ID:           uuid.NewString(),
			CategoryID:   categoryID,
			Area:         area,
			Rank:         rank,
			FreelancerID: freelancerID,
			Status:       market.ReservationHeld,
			ExpiresAt:    now.Add(g.holdTTL),
			CreatedAt:    now,
		}
		return g.repo.CreateReservation(txCtx, result)
	})
	if err != nil {
		return market.Reservation{}, err
	}
	return result, nil
}

// Commit converts a still-live hold into a durable slot expiring with
// the backing entitlement. Committing an already-committed reservation
// returns the existing slot (idempotent). A lapsed hold fails with
// ErrExpired; the caller must re-reserve.
func (g *Registry) Commit(ctx context.Context, reservationID string, slotExpiry time.Time) (market.PositionSlot, error) {
	now := g.clock.Now()
	var result market.PositionSlot

	err := g.repo.WithTx(ctx, func(txCtx context.Context) error {
		resv, err := g.repo.GetReservationForUpdate(txCtx, reservationID)
		if err != nil {
			return err
		}

		if resv.Status == market.ReservationCommitted {
			existing, err := g.repo.GetSlot(txCtx, resv.CategoryID, resv.Area, resv.Rank)
			if err != nil {
				return err
			}
			if existing != nil && existing.HolderID == resv.FreelancerID {
				result = *existing
				return nil
			}
			return market.ErrExpired
		}
		if !resv.Live(now) {
			return market.ErrExpired
		}

		result = market.PositionSlot{
			CategoryID: resv.CategoryID,
			Area:       resv.Area,
			Rank:       resv.Rank,
			HolderID:   resv.FreelancerID,
			ExpiresAt:  slotExpiry,
			CreatedAt:  now,
		}
		if err := g.repo.UpsertSlot(txCtx, result); err != nil {
			return err
		}
		return g.repo.UpdateReservationStatus(txCtx, reservationID, market.ReservationCommitted)
	})
	if err != nil {
		return market.PositionSlot{}, err
	}
	return result, nil
}

// Release vacates a hold, or the committed slot behind it. Used on
// payment failure and subscription lapse. Idempotent.
func (g *Registry) Release(ctx context.Context, reservationID string) error {
	return g.repo.WithTx(ctx, func(txCtx context.Context) error {
		resv, err := g.repo.GetReservationForUpdate(txCtx, reservationID)
		if err != nil {
			return err
		}
		switch resv.Status {
		case market.ReservationReleased:
			return nil
		case market.ReservationCommitted:
			if err := g.repo.VacateSlot(txCtx, resv.CategoryID, resv.Area, resv.Rank, resv.FreelancerID); err != nil {
				return err
			}
		}
		return g.repo.UpdateReservationStatus(txCtx, reservationID, market.ReservationReleased)
	})
}

// Vacate removes a committed slot directly by key and holder, for the
// entitlement-lapse sweep. A no-op when the holder does not match.
func (g *Registry) Vacate(ctx context.Context, categoryID, area string, rank market.Rank, holderID string) error {
	err := g.repo.VacateSlot(ctx, categoryID, area, rank, holderID)
	if err != nil {
		return err
	}
	g.log.Info("slot vacated", "category_id", categoryID, "area", area, "rank", int(rank), "holder_id", holderID)
	return nil
}
