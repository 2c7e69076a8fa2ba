package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/market"
)

// Repository persists payment orders. GetOrderByGatewayIDForUpdate must
// lock the row so duplicate callback deliveries serialize.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, o market.PaymentOrder) error
	GetOrder(ctx context.Context, id string) (market.PaymentOrder, error)
	GetOrderByGatewayIDForUpdate(ctx context.Context, gatewayOrderID string) (market.PaymentOrder, error)
	UpdateOrder(ctx context.Context, o market.PaymentOrder) error
	StaleReservedOrders(ctx context.Context, now time.Time) ([]market.PaymentOrder, error)
}

// SlotRegistry is the slice of slots.Registry the orchestrator drives.
type SlotRegistry interface {
	Reserve(ctx context.Context, categoryID, area string, rank market.Rank, freelancerID string) (market.Reservation, error)
	Commit(ctx context.Context, reservationID string, slotExpiry time.Time) (market.PositionSlot, error)
	Release(ctx context.Context, reservationID string) error
}

// EntitlementGranter is satisfied by ledger.Ledger.
type EntitlementGranter interface {
	Grant(ctx context.Context, e market.Entitlement) error
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

const entitlementDuration = 30 * 24 * time.Hour

// Orchestrator owns PaymentOrder state and is the only writer allowed
// to commit slots and grant entitlements as a payment side effect.
type Orchestrator struct {
	repo     Repository
	slots    SlotRegistry
	ledger   EntitlementGranter
	gateway  Gateway
	producer Publisher
	secret   string
	clock    clock.Clock
	service  string
	log      *slog.Logger
}

func NewOrchestrator(repo Repository, slotReg SlotRegistry, granter EntitlementGranter,
	gw Gateway, producer Publisher, secret, service string, clk clock.Clock, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		repo:     repo,
		slots:    slotReg,
		ledger:   granter,
		gateway:  gw,
		producer: producer,
		secret:   secret,
		clock:    clk,
		service:  service,
		log:      log,
	}
}

type CreateOrderInput struct {
	FreelancerID string
	Purpose      market.Purpose
	BadgeType    string

	// Position purchases only.
	CategoryID string
	Area       string
	Rank       market.Rank
}

// CreateOrder validates the purchase, opens the gateway order, and for
// position purchases attaches a rank reservation before the user is
// ever charged, so the payment cannot land on a rank someone else owns.
func (o *Orchestrator) CreateOrder(ctx context.Context, in CreateOrderInput) (market.PaymentOrder, error) {
	amount, err := PriceFor(in.Purpose, in.Rank)
	if err != nil {
		return market.PaymentOrder{}, err
	}
	if in.Purpose == market.PurposePosition && (in.CategoryID == "" || in.Area == "") {
		return market.PaymentOrder{}, market.ErrInvalidPurpose
	}

	now := o.clock.Now()
	order := market.PaymentOrder{
		ID:           uuid.NewString(),
		FreelancerID: in.FreelancerID,
		Purpose:      in.Purpose,
		AmountPaise:  amount,
		BadgeType:    in.BadgeType,
		CategoryID:   in.CategoryID,
		Area:         in.Area,
		Rank:         in.Rank,
		Status:       market.OrderCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	gwID, err := o.gateway.CreateOrder(ctx, amount, "INR", order.ID)
	if err != nil {
		return market.PaymentOrder{}, fmt.Errorf("open gateway order: %w", err)
	}
	order.GatewayOrderID = gwID

	if in.Purpose == market.PurposePosition {
		resv, err := o.slots.Reserve(ctx, in.CategoryID, in.Area, in.Rank, in.FreelancerID)
		if err != nil {
			// Rank race lost after the gateway order opened; nothing was
			// charged yet, the order just dies here.
			order.Status = market.OrderFailed
			if cerr := o.repo.CreateOrder(ctx, order); cerr != nil {
				return market.PaymentOrder{}, cerr
			}
			return market.PaymentOrder{}, err
		}
		order.ReservationID = resv.ID
		order.Status = market.OrderReserved
	}

	if err := o.repo.CreateOrder(ctx, order); err != nil {
		return market.PaymentOrder{}, fmt.Errorf("persist order: %w", err)
	}
	return order, nil
}

type VerifyCallback struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Verify drives the verified/failed transition from a gateway callback.
// The signature check comes first; only then does the reservation get
// committed and the entitlement granted, and the order is marked
// VERIFIED only after both succeed. Re-delivery of a callback for a
// VERIFIED order is a no-op returning the stored outcome.
//
// Failure transitions (signature mismatch, lost reservation) must land
// on disk, so the closure returns nil for them and the sentinel is
// carried out past the commit. Events also wait for the commit: nothing
// is published for a transaction that rolled back.
func (o *Orchestrator) Verify(ctx context.Context, cb VerifyCallback) (market.PaymentOrder, error) {
	now := o.clock.Now()
	var (
		result    market.PaymentOrder
		outcome   error // committed failure transition, surfaced after the tx
		releaseID string
		emit      []func()
	)

	err := o.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := o.repo.GetOrderByGatewayIDForUpdate(txCtx, cb.GatewayOrderID)
		if err != nil {
			return err
		}

		if order.Status == market.OrderVerified {
			result = order
			return nil
		}
		if order.Status.Terminal() {
			return market.ErrOrderClosed
		}

		if !VerifySignature(o.secret, cb.GatewayOrderID, cb.GatewayPaymentID, cb.Signature) {
			order.Status = market.OrderFailed
			order.GatewayPaymentID = cb.GatewayPaymentID
			order.UpdatedAt = now
			if err := o.repo.UpdateOrder(txCtx, order); err != nil {
				return err
			}
			o.log.Warn("gateway signature mismatch",
				"order_id", order.ID, "gateway_order_id", cb.GatewayOrderID,
				"gateway_payment_id", cb.GatewayPaymentID)
			releaseID = order.ReservationID
			orderID := order.ID
			emit = append(emit, func() {
				o.publish(market.TopicPaymentFailed, market.EventPaymentFailed, orderID,
					market.PaymentFailedPayload{OrderID: orderID, Reason: "SIGNATURE_MISMATCH"})
			})
			outcome = market.ErrSignatureMismatch
			return nil
		}

		entEnd := now.Add(entitlementDuration)
		var slot *market.PositionSlot
		if order.ReservationID != "" {
			committed, err := o.slots.Commit(ctx, order.ReservationID, entEnd)
			if errors.Is(err, market.ErrExpired) || errors.Is(err, market.ErrReservationNotFound) {
				// Money captured, resource lost. Flag for operators,
				// never swallow.
				order.Status = market.OrderFailed
				order.GatewayPaymentID = cb.GatewayPaymentID
				order.GatewaySignature = cb.Signature
				order.NeedsReconciliation = true
				order.UpdatedAt = now
				if uerr := o.repo.UpdateOrder(txCtx, order); uerr != nil {
					return uerr
				}
				o.log.Error("verified payment lost its reservation",
					"order_id", order.ID, "reservation_id", order.ReservationID,
					"gateway_payment_id", cb.GatewayPaymentID)
				failed := order
				emit = append(emit, func() {
					o.publish(market.TopicPaymentReconcile, market.EventReconciliationRequired, failed.ID,
						market.ReconciliationRequiredPayload{
							OrderID:          failed.ID,
							FreelancerID:     failed.FreelancerID,
							GatewayPaymentID: cb.GatewayPaymentID,
							Reason:           "HOLD_EXPIRED_BEFORE_COMMIT",
						})
				})
				outcome = market.ErrReconciliationRequired
				return nil
			}
			if err != nil {
				return fmt.Errorf("commit reservation: %w", err)
			}
			slot = &committed
		}

		if err := o.ledger.Grant(ctx, o.entitlementFor(order, entEnd)); err != nil {
			// Slot already committed; the order stays RESERVED so a
			// callback retry re-runs the idempotent commit and the grant.
			return fmt.Errorf("grant entitlement: %w", err)
		}

		order.Status = market.OrderVerified
		order.GatewayPaymentID = cb.GatewayPaymentID
		order.GatewaySignature = cb.Signature
		order.UpdatedAt = now
		if err := o.repo.UpdateOrder(txCtx, order); err != nil {
			return err
		}

		verified := order
		emit = append(emit, func() {
			o.publish(market.TopicPaymentVerified, market.EventPaymentVerified, verified.ID,
				market.PaymentVerifiedPayload{
					OrderID:          verified.ID,
					FreelancerID:     verified.FreelancerID,
					Purpose:          verified.Purpose,
					AmountPaise:      verified.AmountPaise,
					GatewayPaymentID: cb.GatewayPaymentID,
				})
		})
		if slot != nil {
			committed := *slot
			emit = append(emit, func() {
				o.publish(market.TopicPositionCommitted, market.EventPositionCommitted, verified.ID,
					market.PositionCommittedPayload{
						OrderID:    verified.ID,
						HolderID:   committed.HolderID,
						CategoryID: committed.CategoryID,
						Area:       committed.Area,
						Rank:       committed.Rank,
						ExpiresAt:  committed.ExpiresAt,
					})
			})
		}

		result = order
		return nil
	})
	if err != nil {
		return market.PaymentOrder{}, err
	}

	if releaseID != "" {
		if err := o.slots.Release(ctx, releaseID); err != nil {
			o.log.Error("release after signature mismatch", "reservation_id", releaseID, "err", err)
		}
	}
	for _, fn := range emit {
		fn()
	}
	if outcome != nil {
		return market.PaymentOrder{}, outcome
	}
	return result, nil
}

func (o *Orchestrator) entitlementFor(order market.PaymentOrder, end time.Time) market.Entitlement {
	e := market.Entitlement{
		FreelancerID: order.FreelancerID,
		EndDate:      end,
	}
	switch order.Purpose {
	case market.PurposeLeadPlan:
		e.Plan = market.PlanLead
	case market.PurposeBadge:
		e.Plan = market.PlanBadge
		e.BadgeType = order.BadgeType
	case market.PurposePosition:
		e.Plan = market.PlanPosition
		e.CategoryID = order.CategoryID
		e.Area = order.Area
		e.Rank = order.Rank
	}
	return e
}

// ExpireStale moves RESERVED orders whose hold lapsed to EXPIRED and
// releases the hold. Idempotent; safe to run on a ticker.
func (o *Orchestrator) ExpireStale(ctx context.Context, now time.Time) error {
	stale, err := o.repo.StaleReservedOrders(ctx, now)
	if err != nil {
		return fmt.Errorf("stale orders: %w", err)
	}
	for _, order := range stale {
		err := o.repo.WithTx(ctx, func(txCtx context.Context) error {
			fresh, err := o.repo.GetOrderByGatewayIDForUpdate(txCtx, order.GatewayOrderID)
			if err != nil {
				return err
			}
			if fresh.Status != market.OrderReserved {
				return nil // verified or failed in the meantime
			}
			fresh.Status = market.OrderExpired
			fresh.UpdatedAt = now
			return o.repo.UpdateOrder(txCtx, fresh)
		})
		if err != nil {
			o.log.Error("expire stale order", "order_id", order.ID, "err", err)
			continue
		}
		if err := o.slots.Release(ctx, order.ReservationID); err != nil {
			o.log.Error("release stale reservation", "order_id", order.ID, "err", err)
		}
		o.publish(market.TopicPaymentFailed, market.EventPaymentFailed, order.ID,
			market.PaymentFailedPayload{OrderID: order.ID, Reason: "HOLD_EXPIRED"})
	}
	return nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, id string) (market.PaymentOrder, error) {
	return o.repo.GetOrder(ctx, id)
}

func (o *Orchestrator) publish(topic, eventType, correlationID string, payload any) {
	if o.producer == nil {
		return
	}
	ev := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    o.clock.Now(),
		Producer:      o.service,
		CorrelationID: correlationID,
		Payload:       kafka.MustMarshal(payload),
	}
	o.producer.Publish(topic, market.PartitionKey(correlationID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
