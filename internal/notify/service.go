package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/market"
	"github.com/taskora/marketplace/internal/redisx"
)

// Matcher resolves which freelancers should hear about a lead: profile
// matches the category+area and an active lead plan exists.
type Matcher interface {
	EligibleFreelancers(ctx context.Context, categoryID, area string, now time.Time) ([]string, error)
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header)
}

// Service fans a posted lead out to eligible freelancers, one dispatch
// event each. Delivery past the dispatch topic belongs to the
// notification transport.
type Service struct {
	Matcher     Matcher
	Redis       *redis.Client
	Producer    Publisher
	ServiceName string
	Log         *slog.Logger
}

// HandleLeadPosted is wired as the consumer handler for lead.posted.
func (s *Service) HandleLeadPosted(ctx context.Context, m kafkago.Message) error {
	var env market.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != market.EventLeadPosted {
		return nil // ignore
	}

	// dedup on event_id so a redelivered message doesn't double-notify
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "notify", env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[market.LeadPostedPayload](env.Payload)
	if err != nil {
		return err
	}

	fids, err := s.Matcher.EligibleFreelancers(ctx, p.CategoryID, p.Area, env.OccurredAt)
	if err != nil {
		return err
	}

	for _, fid := range fids {
		ev := market.Envelope{
			EventID:       uuid.NewString(),
			EventType:     market.EventLeadDispatch,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      s.ServiceName,
			TraceID:       env.TraceID,
			CorrelationID: p.LeadID,
			Payload: kafkax.MustMarshal(market.LeadDispatchPayload{
				LeadID:         p.LeadID,
				FreelancerID:   fid,
				CategoryID:     p.CategoryID,
				Area:           p.Area,
				BudgetMinPaise: p.BudgetMinPaise,
				BudgetMaxPaise: p.BudgetMaxPaise,
			}),
		}
		s.Producer.Publish(market.TopicLeadDispatch, market.PartitionKey(p.LeadID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(market.EventLeadDispatch)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}

	if s.Log != nil {
		s.Log.Info("lead fanned out", "lead_id", p.LeadID, "eligible", len(fids))
	}
	return nil
}
