// Package event publishes domain events after their transaction commits.
package event

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/pkg/messaging"
	"github.com/jwalitptl/nutri-api/pkg/metrics"
)

// Publisher is best effort: a failed publish is logged and never fails the
// request that produced the event.
type Publisher interface {
	Publish(ctx context.Context, evt model.Event)
}

type BrokerPublisher struct {
	broker  messaging.Broker
	channel string
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewBrokerPublisher(broker messaging.Broker, channel string, logger zerolog.Logger, m *metrics.Metrics) *BrokerPublisher {
	return &BrokerPublisher{
		broker:  broker,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger,
		metrics: m,
	}
}

func (p *BrokerPublisher) Publish(ctx context.Context, evt model.Event) {
	// The request may finish before the broker answers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.broker.Publish(ctx, p.channel, evt); err != nil {
		p.metrics.EventPublished(evt.Type, "failed")
		p.logger.Error().
			Err(err).
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Str("entity_id", evt.EntityID).
			Msg("failed to publish event")
		return
	}
	p.metrics.EventPublished(evt.Type, "published")
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.Event) {}

// Emit builds and publishes an event, logging marshal failures.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, eventType string, actor model.Claims, clinicID, entityID string, data interface{}, at time.Time) {
	evt, err := model.NewEvent(eventType, actor, clinicID, entityID, data, at)
	if err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("failed to build event")
		return
	}
	p.Publish(ctx, evt)
}
