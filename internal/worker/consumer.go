package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/pkg/messaging"
)

type EventHandler interface {
	HandleEvent(ctx context.Context, evt model.Event) error
}

// Consumer feeds events from a broker channel to a handler until ctx ends.
// Handler failures are logged and the consumer moves on.
type Consumer struct {
	broker  messaging.Broker
	channel string
	handler EventHandler
	logger  zerolog.Logger
}

func NewConsumer(broker messaging.Broker, channel string, handler EventHandler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		broker:  broker,
		channel: channel,
		handler: handler,
		logger:  logger,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.broker.Subscribe(ctx, c.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.logger.Info().Str("channel", c.channel).Msg("event consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			c.dispatch(ctx, raw)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, raw []byte) {
	var evt model.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.logger.Error().Err(err).Msg("dropping malformed event")
		return
	}

	if err := c.handler.HandleEvent(ctx, evt); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Msg("event handler failed")
	}
}
