package leads

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

// Repository persists leads. AcceptLead and transition sweeps are
// compare-and-swap operations on the status column: the write succeeds
// only when the row is still OPEN.
type Repository interface {
	CreateLead(ctx context.Context, l market.Lead) error
	GetLead(ctx context.Context, id string) (market.Lead, error)
	AcceptLead(ctx context.Context, id, freelancerID string, now time.Time) (bool, error)
	WithdrawLead(ctx context.Context, id, customerID string, now time.Time) (bool, error)
	ExpireLeads(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

const defaultLeadTTL = 72 * time.Hour

// Dispatcher owns Lead creation and expiry. Fan-out to eligible
// freelancers happens downstream off the lead.posted event; delivery is
// the notification transport's problem, and the lead stays OPEN whether
// or not anything was delivered.
type Dispatcher struct {
	repo     Repository
	producer Publisher
	clock    clock.Clock
	leadTTL  time.Duration
	service  string
	log      *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithLeadTTL(d time.Duration) DispatcherOption {
	return func(s *Dispatcher) {
		if d > 0 {
			s.leadTTL = d
		}
	}
}

func NewDispatcher(repo Repository, producer Publisher, clk clock.Clock, service string, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		repo:     repo,
		producer: producer,
		clock:    clk,
		leadTTL:  defaultLeadTTL,
		service:  service,
		log:      log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type PostInput struct {
	CustomerID      string
	CategoryID      string
	Area            string
	BudgetMinPaise  int64
	BudgetMaxPaise  int64
	Description     string
	CustomerContact string
}

func (in PostInput) validate() error {
	if in.CustomerID == "" || in.CategoryID == "" || in.Area == "" {
		return errors.New("customer_id, category_id and area are required")
	}
	if in.CustomerContact == "" {
		return errors.New("customer contact is required")
	}
	if in.BudgetMinPaise < 0 || (in.BudgetMaxPaise > 0 && in.BudgetMaxPaise < in.BudgetMinPaise) {
		return errors.New("invalid budget range")
	}
	return nil
}

// Post creates the lead OPEN and announces it. The announcement carries
// the summary only; contact details stay server-side until someone wins
// the accept race.
func (d *Dispatcher) Post(ctx context.Context, in PostInput) (market.Lead, error) {
	if err := in.validate(); err != nil {
		return market.Lead{}, err
	}
	now := d.clock.Now()
	lead := market.Lead{
		ID:              uuid.NewString(),
		CustomerID:      in.CustomerID,
		CategoryID:      in.CategoryID,
		Area:            in.Area,
		BudgetMinPaise:  in.BudgetMinPaise,
		BudgetMaxPaise:  in.BudgetMaxPaise,
		Description:     in.Description,
		Status:          market.LeadOpen,
		CustomerContact: in.CustomerContact,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.repo.CreateLead(ctx, lead); err != nil {
		return market.Lead{}, fmt.Errorf("persist lead: %w", err)
	}

	d.publish(market.TopicLeadPosted, market.EventLeadPosted, lead.ID, market.LeadPostedPayload{
		LeadID:         lead.ID,
		CategoryID:     lead.CategoryID,
		Area:           lead.Area,
		BudgetMinPaise: lead.BudgetMinPaise,
		BudgetMaxPaise: lead.BudgetMaxPaise,
		Description:    lead.Description,
	})
	return lead, nil
}

// Withdraw retracts an OPEN lead; only its customer may do so.
func (d *Dispatcher) Withdraw(ctx context.Context, leadID, customerID string) error {
	ok, err := d.repo.WithdrawLead(ctx, leadID, customerID, d.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	lead, err := d.repo.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	switch lead.Status {
	case market.LeadAccepted:
		return market.ErrAlreadyAccepted
	case market.LeadExpired:
		return market.ErrExpired
	case market.LeadWithdrawn:
		return nil // already done
	}
	return market.ErrConflict
}

// ExpireStale sweeps OPEN leads older than the TTL to EXPIRED.
// Idempotent and safe to run concurrently with accepts: expiry and
// acceptance race on the same status CAS, so each lead goes one way.
func (d *Dispatcher) ExpireStale(ctx context.Context, now time.Time) error {
	expired, err := d.repo.ExpireLeads(ctx, now.Add(-d.leadTTL), now)
	if err != nil {
		return fmt.Errorf("expire leads: %w", err)
	}
	for _, id := range expired {
		d.publish(market.TopicLeadExpired, market.EventLeadExpired, id, market.LeadExpiredPayload{LeadID: id})
	}
	if len(expired) > 0 {
		d.log.Info("expired stale leads", "count", len(expired))
	}
	return nil
}

func (d *Dispatcher) Get(ctx context.Context, id string) (market.Lead, error) {
	return d.repo.GetLead(ctx, id)
}

func (d *Dispatcher) publish(topic, eventType, correlationID string, payload any) {
	if d.producer == nil {
		return
	}
	ev := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    d.clock.Now(),
		Producer:      d.service,
		CorrelationID: correlationID,
		Payload:       kafka.MustMarshal(payload),
	}
	d.producer.Publish(topic, market.PartitionKey(correlationID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
