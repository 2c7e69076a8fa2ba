package leads

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/taskora/marketplace/internal/clock"
	"github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/ledger"
	"github.com/taskora/marketplace/internal/market"
	"github.com/taskora/marketplace/internal/redisx"
)

// EntitlementChecker is satisfied by ledger.Ledger.
type EntitlementChecker interface {
	IsEntitled(ctx context.Context, freelancerID string, plan market.Plan, scope ledger.Scope) (bool, error)
}

// Coordinator arbitrates concurrent accept attempts on one lead. The
// OPEN -> ACCEPTED transition is a single compare-and-swap on the lead
// row; first writer wins, everyone else reads the outcome.
type Coordinator struct {
	repo     Repository
	ents     EntitlementChecker
	producer Publisher
	redis    *redis.Client
	clock    clock.Clock
	service  string
	log      *slog.Logger
}

func NewCoordinator(repo Repository, ents EntitlementChecker, producer Publisher,
	rdb *redis.Client, clk clock.Clock, service string, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		repo:     repo,
		ents:     ents,
		producer: producer,
		redis:    rdb,
		clock:    clk,
		service:  service,
		log:      log,
	}
}

// Accept returns the customer contact to exactly one winner. The
// entitlement gate comes before the state transition: a freelancer who
// cannot legally win never touches the lead, which stays OPEN for
// everyone else. A retry by the winner returns the contact again.
func (c *Coordinator) Accept(ctx context.Context, leadID, freelancerID string) (string, error) {
	entitled, err := c.ents.IsEntitled(ctx, freelancerID, market.PlanLead, ledger.Scope{})
	if err != nil {
		return "", fmt.Errorf("entitlement check: %w", err)
	}
	if !entitled {
		return "", market.ErrNotEntitled
	}

	now := c.clock.Now()
	won, err := c.repo.AcceptLead(ctx, leadID, freelancerID, now)
	if err != nil {
		return "", fmt.Errorf("accept lead: %w", err)
	}

	lead, err := c.repo.GetLead(ctx, leadID)
	if err != nil {
		return "", err
	}

	if !won {
		switch lead.Status {
		case market.LeadAccepted:
			if lead.AcceptedBy == freelancerID {
				return lead.CustomerContact, nil
			}
			return "", market.ErrAlreadyAccepted
		case market.LeadExpired:
			return "", market.ErrExpired
		case market.LeadWithdrawn:
			return "", market.ErrLeadWithdrawn
		default:
			return "", market.ErrConflict
		}
	}

	c.cacheContact(ctx, lead, freelancerID)
	c.publishAccepted(leadID, freelancerID)
	c.log.Info("lead accepted", "lead_id", leadID, "freelancer_id", freelancerID)
	return lead.CustomerContact, nil
}

// cacheContact keeps the released contact close for the winner's later
// reads; the lead row stays the source of truth.
func (c *Coordinator) cacheContact(ctx context.Context, lead market.Lead, freelancerID string) {
	if c.redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyLeadContact, lead.ID, freelancerID)
	if err := c.redis.Set(ctx, key, lead.CustomerContact, redisx.TTLLeadContact).Err(); err != nil {
		c.log.Warn("cache lead contact", "lead_id", lead.ID, "err", err)
	}
}

func (c *Coordinator) publishAccepted(leadID, freelancerID string) {
	if c.producer == nil {
		return
	}
	ev := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     market.EventLeadAccepted,
		EventVersion:  1,
		OccurredAt:    c.clock.Now(),
		Producer:      c.service,
		CorrelationID: leadID,
		Payload: kafka.MustMarshal(market.LeadAcceptedPayload{
			LeadID:       leadID,
			FreelancerID: freelancerID,
		}),
	}
	c.producer.Publish(market.TopicLeadAccepted, market.PartitionKey(leadID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(market.EventLeadAccepted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
