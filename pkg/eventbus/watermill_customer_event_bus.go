package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/itinera/pkg/events"
)

// watermillCustomerEventBus implements CustomerEventBus over any watermill
// publisher/subscriber pair (Kafka in production, GoChannel in tests).
type watermillCustomerEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	handlers   []CustomerEventHandler
	logger     *slog.Logger
}

// NewCustomerEventBus creates a customer event bus over the given channel.
func NewCustomerEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) CustomerEventBus {
	return &watermillCustomerEventBus{
		publisher:  pub,
		subscriber: sub,
		handlers:   make([]CustomerEventHandler, 0),
		logger:     logger.With("module", "customer_event_bus"),
	}
}

// PublishCustomerEvent validates and publishes one inbound customer event.
func (b *watermillCustomerEventBus) PublishCustomerEvent(ctx context.Context, event *events.CustomerEvent) error {
	err := event.Validate()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, event.CustomerID)
	msg.Metadata.Set("event_name", event.Name)

	b.logger.DebugContext(ctx, "Publishing customer event",
		"event_name", event.Name,
		"customer_id", event.CustomerID,
	)

	return b.publisher.Publish(events.CustomerEventsTopic, msg)
}

// HandleCustomerEvents registers a handler called for every inbound event.
func (b *watermillCustomerEventBus) HandleCustomerEvents(handler CustomerEventHandler) error {
	b.handlers = append(b.handlers, handler)

	return nil
}

// SubscribeToCustomerEvents starts consuming customer events. Handlers run
// sequentially per message; any failure rejects the message for redelivery.
func (b *watermillCustomerEventBus) SubscribeToCustomerEvents(ctx context.Context) error {
	if len(b.handlers) == 0 {
		b.logger.WarnContext(ctx, "No handlers registered for customer events")

		return nil
	}

	messages, err := b.subscriber.Subscribe(ctx, events.CustomerEventsTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event events.CustomerEvent

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				b.logger.Error("Failed to unmarshal customer event", "error", err, "message_id", msg.UUID)
				msg.Nack()

				continue
			}

			failed := false

			for _, handler := range b.handlers {
				err := handler(ctx, &event)
				if err != nil {
					b.logger.Error("Customer event handler failed",
						"error", err,
						"event_name", event.Name,
						"customer_id", event.CustomerID,
					)

					failed = true
				}
			}

			if failed {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// Close shuts down the underlying channel.
func (b *watermillCustomerEventBus) Close() error {
	err := b.publisher.Close()
	if err != nil {
		return err
	}

	return b.subscriber.Close()
}
