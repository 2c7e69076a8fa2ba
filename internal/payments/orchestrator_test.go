package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/market"
)

const testSecret = "shhh-shared-secret"

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]market.PaymentOrder // by id
	updateErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: map[string]market.PaymentOrder{}}
}

// WithTx mirrors the real repo: an error from fn rolls every write in
// the transaction back.
func (f *fakeOrderRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make(map[string]market.PaymentOrder, len(f.orders))
	for id, o := range f.orders {
		snapshot[id] = o
	}
	if err := fn(ctx); err != nil {
		f.orders = snapshot
		return err
	}
	return nil
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, o market.PaymentOrder) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) GetOrder(ctx context.Context, id string) (market.PaymentOrder, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return market.PaymentOrder{}, market.ErrOrderNotFound
}

func (f *fakeOrderRepo) GetOrderByGatewayIDForUpdate(ctx context.Context, gwID string) (market.PaymentOrder, error) {
	for _, o := range f.orders {
		if o.GatewayOrderID == gwID {
			return o, nil
		}
	}
	return market.PaymentOrder{}, market.ErrOrderNotFound
}

func (f *fakeOrderRepo) UpdateOrder(ctx context.Context, o market.PaymentOrder) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored := f.orders[o.ID]
	stored.Status = o.Status
	stored.GatewayPaymentID = o.GatewayPaymentID
	stored.GatewaySignature = o.GatewaySignature
	stored.NeedsReconciliation = o.NeedsReconciliation
	stored.UpdatedAt = o.UpdatedAt
	f.orders[o.ID] = stored
	return nil
}

func (f *fakeOrderRepo) StaleReservedOrders(ctx context.Context, now time.Time) ([]market.PaymentOrder, error) {
	return nil, nil
}

// fakeSlots mimics slots.Registry semantics closely enough to exercise
// the orchestrator's ordering guarantees.
type fakeSlots struct {
	mu        sync.Mutex
	nextID    int
	holds     map[string]market.Reservation
	committed map[string]market.PositionSlot // by reservation id
	expireAll bool
	released  []string
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{
		holds:     map[string]market.Reservation{},
		committed: map[string]market.PositionSlot{},
	}
}

func (f *fakeSlots) Reserve(ctx context.Context, cat, area string, rank market.Rank, fid string) (market.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.holds {
		if h.CategoryID == cat && h.Area == area && h.Rank == rank && h.Status == market.ReservationHeld {
			return market.Reservation{}, market.ErrConflict
		}
	}
	f.nextID++
	r := market.Reservation{
		ID:         fmt.Sprintf("resv-%d", f.nextID),
		CategoryID: cat, Area: area, Rank: rank,
		FreelancerID: fid,
		Status:       market.ReservationHeld,
	}
	f.holds[r.ID] = r
	return r, nil
}

func (f *fakeSlots) Commit(ctx context.Context, id string, expiry time.Time) (market.PositionSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.committed[id]; ok {
		return s, nil
	}
	h, ok := f.holds[id]
	if !ok {
		return market.PositionSlot{}, market.ErrReservationNotFound
	}
	if f.expireAll || h.Status != market.ReservationHeld {
		return market.PositionSlot{}, market.ErrExpired
	}
	s := market.PositionSlot{
		CategoryID: h.CategoryID, Area: h.Area, Rank: h.Rank,
		HolderID: h.FreelancerID, ExpiresAt: expiry,
	}
	f.committed[id] = s
	h.Status = market.ReservationCommitted
	f.holds[id] = h
	return s, nil
}

func (f *fakeSlots) Release(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	if h, ok := f.holds[id]; ok {
		h.Status = market.ReservationReleased
		f.holds[id] = h
	}
	return nil
}

type fakeGranter struct {
	mu     sync.Mutex
	grants []market.Entitlement
	err    error
}

func (f *fakeGranter) Grant(ctx context.Context, e market.Entitlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.grants = append(f.grants, e)
	return nil
}

type fakeGateway struct {
	nextID int
	err    error
}

func (f *fakeGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	return fmt.Sprintf("gw-order-%d", f.nextID), nil
}

type published struct {
	topic string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, value: value})
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

type fixture struct {
	orch  *Orchestrator
	repo  *fakeOrderRepo
	slots *fakeSlots
	lgr   *fakeGranter
	pub   *fakePublisher
}

func newFixture(now time.Time) fixture {
	repo := newFakeOrderRepo()
	sl := newFakeSlots()
	gr := &fakeGranter{}
	pub := &fakePublisher{}
	orch := NewOrchestrator(repo, sl, gr, &fakeGateway{}, pub, testSecret, "test-api", clock.NewFixed(now), nil)
	return fixture{orch: orch, repo: repo, slots: sl, lgr: gr, pub: pub}
}

func TestOrchestrator_CreateOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("position purchase reserves the rank", func(t *testing.T) {
		fx := newFixture(now)
		order, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: market.PurposePosition,
			CategoryID: "c", Area: "a", Rank: market.RankFirst,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.Status != market.OrderReserved {
			t.Fatalf("expected RESERVED, got %s", order.Status)
		}
		if order.ReservationID == "" {
			t.Fatalf("expected reservation token attached")
		}
		if order.AmountPaise != 199900 {
			t.Fatalf("expected server-side rank-1 price, got %d", order.AmountPaise)
		}
	})

	t.Run("lead plan purchase skips the reserve step", func(t *testing.T) {
		fx := newFixture(now)
		order, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: market.PurposeLeadPlan,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.Status != market.OrderCreated || order.ReservationID != "" {
			t.Fatalf("expected CREATED with no reservation, got %+v", order)
		}
		if order.AmountPaise != 49900 {
			t.Fatalf("expected lead plan price, got %d", order.AmountPaise)
		}
	})

	t.Run("rank conflict fails the order", func(t *testing.T) {
		fx := newFixture(now)
		if _, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: market.PurposePosition,
			CategoryID: "c", Area: "a", Rank: market.RankFirst,
		}); err != nil {
			t.Fatalf("first order: %v", err)
		}
		_, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f2", Purpose: market.PurposePosition,
			CategoryID: "c", Area: "a", Rank: market.RankFirst,
		})
		if !errors.Is(err, market.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("invalid purpose", func(t *testing.T) {
		fx := newFixture(now)
		_, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: "LOTTERY",
		})
		if !errors.Is(err, market.ErrInvalidPurpose) {
			t.Fatalf("expected ErrInvalidPurpose, got %v", err)
		}
	})
}

func TestOrchestrator_Verify(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	createPositionOrder := func(t *testing.T, fx fixture) market.PaymentOrder {
		t.Helper()
		order, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: market.PurposePosition,
			CategoryID: "c", Area: "a", Rank: market.RankSecond,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		return order
	}

	t.Run("valid callback commits and grants", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)

		sig := Sign(testSecret, order.GatewayOrderID, "pay-1")
		verified, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay-1", Signature: sig,
		})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verified.Status != market.OrderVerified {
			t.Fatalf("expected VERIFIED, got %s", verified.Status)
		}
		if len(fx.slots.committed) != 1 {
			t.Fatalf("expected exactly one committed slot, got %d", len(fx.slots.committed))
		}
		if len(fx.lgr.grants) != 1 {
			t.Fatalf("expected one entitlement grant, got %d", len(fx.lgr.grants))
		}
		g := fx.lgr.grants[0]
		if g.Plan != market.PlanPosition || g.CategoryID != "c" || g.Rank != market.RankSecond {
			t.Fatalf("unexpected grant %+v", g)
		}
	})

	t.Run("tampered signature never passes reserved", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)

		_, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay-1", Signature: "forged",
		})
		if !errors.Is(err, market.ErrSignatureMismatch) {
			t.Fatalf("expected ErrSignatureMismatch, got %v", err)
		}
		stored, _ := fx.repo.GetOrder(context.Background(), order.ID)
		if stored.Status != market.OrderFailed {
			t.Fatalf("expected FAILED, got %s", stored.Status)
		}
		if len(fx.slots.committed) != 0 {
			t.Fatalf("expected no slot committed on forged callback")
		}
		if len(fx.slots.released) != 1 {
			t.Fatalf("expected the reservation released, got %v", fx.slots.released)
		}
	})

	t.Run("failed transition survives the transaction boundary", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)

		_, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay-1", Signature: "forged",
		})
		if !errors.Is(err, market.ErrSignatureMismatch) {
			t.Fatalf("expected ErrSignatureMismatch, got %v", err)
		}
		// The rollback-faithful fake would discard the FAILED write if
		// the closure surfaced the sentinel as its own error.
		stored, _ := fx.repo.GetOrder(context.Background(), order.ID)
		if stored.Status != market.OrderFailed {
			t.Fatalf("FAILED write did not commit, stored status %s", stored.Status)
		}
		if stored.GatewayPaymentID != "pay-1" {
			t.Fatalf("expected callback payment id recorded, got %q", stored.GatewayPaymentID)
		}
	})

	t.Run("nothing published or released when the transaction fails", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)
		fx.repo.updateErr = errors.New("db down")

		_, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID: order.GatewayOrderID, GatewayPaymentID: "pay-1", Signature: "forged",
		})
		if err == nil || errors.Is(err, market.ErrSignatureMismatch) {
			t.Fatalf("expected the storage error, got %v", err)
		}
		stored, _ := fx.repo.GetOrder(context.Background(), order.ID)
		if stored.Status != market.OrderReserved {
			t.Fatalf("expected order untouched at RESERVED, got %s", stored.Status)
		}
		if got := fx.pub.topics(); len(got) != 0 {
			t.Fatalf("expected no events for a rolled-back transition, got %v", got)
		}
		if len(fx.slots.released) != 0 {
			t.Fatalf("expected no release for a rolled-back transition, got %v", fx.slots.released)
		}
	})

	t.Run("verify is idempotent", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)

		cb := VerifyCallback{
			GatewayOrderID:   order.GatewayOrderID,
			GatewayPaymentID: "pay-1",
			Signature:        Sign(testSecret, order.GatewayOrderID, "pay-1"),
		}
		if _, err := fx.orch.Verify(context.Background(), cb); err != nil {
			t.Fatalf("first verify: %v", err)
		}
		if _, err := fx.orch.Verify(context.Background(), cb); err != nil {
			t.Fatalf("second verify: %v", err)
		}
		if len(fx.slots.committed) != 1 {
			t.Fatalf("expected exactly one slot after re-delivery, got %d", len(fx.slots.committed))
		}
		if len(fx.lgr.grants) != 1 {
			t.Fatalf("expected exactly one grant after re-delivery, got %d", len(fx.lgr.grants))
		}
	})

	t.Run("lapsed hold flags reconciliation", func(t *testing.T) {
		fx := newFixture(now)
		order := createPositionOrder(t, fx)
		fx.slots.expireAll = true

		_, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID:   order.GatewayOrderID,
			GatewayPaymentID: "pay-1",
			Signature:        Sign(testSecret, order.GatewayOrderID, "pay-1"),
		})
		if !errors.Is(err, market.ErrReconciliationRequired) {
			t.Fatalf("expected ErrReconciliationRequired, got %v", err)
		}
		stored, _ := fx.repo.GetOrder(context.Background(), order.ID)
		if stored.Status != market.OrderFailed || !stored.NeedsReconciliation {
			t.Fatalf("expected FAILED + reconciliation flag, got %+v", stored)
		}
		var sawReconcile bool
		for _, topic := range fx.pub.topics() {
			if topic == market.TopicPaymentReconcile {
				sawReconcile = true
			}
		}
		if !sawReconcile {
			t.Fatalf("expected a reconcile event, got %v", fx.pub.topics())
		}
	})

	t.Run("unknown gateway order", func(t *testing.T) {
		fx := newFixture(now)
		_, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID: "gw-unknown", GatewayPaymentID: "pay-1", Signature: "x",
		})
		if !errors.Is(err, market.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("lead plan verify grants without slot", func(t *testing.T) {
		fx := newFixture(now)
		order, err := fx.orch.CreateOrder(context.Background(), CreateOrderInput{
			FreelancerID: "f1", Purpose: market.PurposeLeadPlan,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		verified, err := fx.orch.Verify(context.Background(), VerifyCallback{
			GatewayOrderID:   order.GatewayOrderID,
			GatewayPaymentID: "pay-2",
			Signature:        Sign(testSecret, order.GatewayOrderID, "pay-2"),
		})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if verified.Status != market.OrderVerified {
			t.Fatalf("expected VERIFIED, got %s", verified.Status)
		}
		if len(fx.slots.committed) != 0 {
			t.Fatalf("expected no slot for a lead plan purchase")
		}
		if len(fx.lgr.grants) != 1 || fx.lgr.grants[0].Plan != market.PlanLead {
			t.Fatalf("expected a lead plan grant, got %+v", fx.lgr.grants)
		}
	})
}
