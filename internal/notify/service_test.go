package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/taskora/marketplace/internal/kafka"
	"github.com/taskora/marketplace/internal/market"
)

type fakeMatcher struct {
	fids []string
}

func (f *fakeMatcher) EligibleFreelancers(ctx context.Context, categoryID, area string, now time.Time) ([]string, error) {
	return f.fids, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (f *fakePublisher) Publish(topic string, key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, kafkago.Message{Topic: topic, Key: key, Value: value})
}

func leadPostedMessage(t *testing.T, eventID string) kafkago.Message {
	t.Helper()
	env := market.Envelope{
		EventID:       eventID,
		EventType:     market.EventLeadPosted,
		EventVersion:  1,
		OccurredAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Producer:      "test-api",
		CorrelationID: "lead-1",
		Payload: kafkax.MustMarshal(market.LeadPostedPayload{
			LeadID:     "lead-1",
			CategoryID: "cat-1",
			Area:       "area-1",
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestService_HandleLeadPosted(t *testing.T) {
	t.Parallel()

	t.Run("dispatches once per eligible freelancer", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := &Service{
			Matcher:     &fakeMatcher{fids: []string{"f1", "f2", "f3"}},
			Producer:    pub,
			ServiceName: "test-dispatcher",
		}

		if err := svc.HandleLeadPosted(context.Background(), leadPostedMessage(t, "ev-1")); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(pub.msgs) != 3 {
			t.Fatalf("expected 3 dispatch events, got %d", len(pub.msgs))
		}
		var env market.Envelope
		if err := json.Unmarshal(pub.msgs[0].Value, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.EventType != market.EventLeadDispatch {
			t.Fatalf("expected LeadDispatch, got %s", env.EventType)
		}
		p, err := kafkax.UnwrapPayload[market.LeadDispatchPayload](env.Payload)
		if err != nil {
			t.Fatalf("unwrap: %v", err)
		}
		if p.LeadID != "lead-1" || p.FreelancerID != "f1" {
			t.Fatalf("unexpected payload %+v", p)
		}
	})

	t.Run("ignores other event types", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := &Service{Matcher: &fakeMatcher{fids: []string{"f1"}}, Producer: pub, ServiceName: "d"}

		env := market.Envelope{EventID: "ev-2", EventType: market.EventLeadAccepted}
		m := kafkago.Message{Value: kafkax.MustMarshal(env)}
		if err := svc.HandleLeadPosted(context.Background(), m); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(pub.msgs) != 0 {
			t.Fatalf("expected no dispatch for foreign event, got %d", len(pub.msgs))
		}
	})

	t.Run("no eligible freelancers is not an error", func(t *testing.T) {
		pub := &fakePublisher{}
		svc := &Service{Matcher: &fakeMatcher{}, Producer: pub, ServiceName: "d"}

		if err := svc.HandleLeadPosted(context.Background(), leadPostedMessage(t, "ev-3")); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(pub.msgs) != 0 {
			t.Fatalf("expected no dispatches, got %d", len(pub.msgs))
		}
	})
}
