package messaging

import (
	"context"
	"errors"
)

// ErrBrokerUnavailable is returned while the broker circuit is open.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
