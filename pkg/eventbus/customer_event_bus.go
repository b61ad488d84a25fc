// Package eventbus also carries the inbound customer event channel that
// event triggers enroll on.
package eventbus

import (
	"context"

	"github.com/dukex/itinera/pkg/events"
)

// CustomerEventHandler is called for each inbound customer event.
type CustomerEventHandler func(ctx context.Context, event *events.CustomerEvent) error

// CustomerEventPublisher publishes customer events.
type CustomerEventPublisher interface {
	PublishCustomerEvent(ctx context.Context, event *events.CustomerEvent) error
}

// CustomerEventSubscriber subscribes to customer events.
type CustomerEventSubscriber interface {
	HandleCustomerEvents(handler CustomerEventHandler) error
	SubscribeToCustomerEvents(ctx context.Context) error
}

// CustomerEventBus combines publishing and subscribing for customer events.
type CustomerEventBus interface {
	CustomerEventPublisher
	CustomerEventSubscriber
	Close() error
}
