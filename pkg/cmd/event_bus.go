package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/itinera/pkg/channels/gochannel"
	"github.com/dukex/itinera/pkg/channels/kafka"
	"github.com/dukex/itinera/pkg/eventbus"
)

// NewEventBus builds the journey event bus on the configured transport.
func NewEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) eventbus.EventBus {
	pub, sub := createChannel(provider, serviceName, brokers, logger)

	return eventbus.NewWatermillEventBus(pub, sub)
}

// NewCustomerEventBus builds the bus carrying customer activity events into
// the engine.
func NewCustomerEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) eventbus.CustomerEventBus {
	pub, sub := createChannel(provider, serviceName, brokers, logger)

	return eventbus.NewCustomerEventBus(logger, pub, sub)
}

func createChannel(provider, serviceName string, brokers []string, logger *slog.Logger) (message.Publisher, message.Subscriber) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName, brokers)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return pub, sub
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return pub, sub
	default:
		panic("unsupported event bus provider: " + provider)
	}
}
