package sandbox

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Laudkyle/aptbooks/pkg/kafka"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
)

// Publisher delivers ledger events. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// eventSink turns committed mutations into events. A nil sink or publisher
// drops them.
type eventSink struct {
	pub   Publisher
	topic string
}

func newEventSink(pub Publisher, topic string) *eventSink {
	if topic == "" {
		topic = kafka.Topic("ledger", "events")
	}
	return &eventSink{pub: pub, topic: topic}
}

// emit publishes eventType for the aggregate. The mutation is already
// committed, so failures are logged and the response is unaffected.
func (s *eventSink) emit(r *http.Request, orgID, eventType, aggregateType, aggregateID string, data any) {
	if s == nil || s.pub == nil || eventType == "" {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	log := logger.FromContext(ctx)

	event, err := kafka.NewEvent(eventType, orgID, aggregateType, aggregateID, serviceName, data)
	if err != nil {
		log.ErrorContext(ctx, "build ledger event", slog.String("event_type", eventType), slog.String("error", err.Error()))
		return
	}
	event.WithCorrelationID(logger.RequestIDFromContext(ctx))
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		event.WithMetadata("user_id", claims.UserID)
	}

	if err := s.pub.Publish(ctx, s.topic, event); err != nil {
		log.WarnContext(ctx, "ledger event dropped",
			slog.String("event_type", eventType),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
	}
}

// MemoryPublisher keeps published events in order. It backs the sandbox when
// no broker is configured and lets tests inspect what was emitted.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*kafka.Event
}

func (p *MemoryPublisher) Publish(_ context.Context, _ string, event *kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []*kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*kafka.Event, len(p.events))
	copy(out, p.events)
	return out
}
