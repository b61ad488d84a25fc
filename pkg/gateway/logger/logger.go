// Package logger implements a message gateway that only logs sends. It
// backs local development and test-mode journeys where no provider is wired.
package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukex/itinera/pkg/gateway"
)

// Gateway logs each outbound message and fabricates a message id.
type Gateway struct {
	logger *slog.Logger
}

// NewGateway creates a logging gateway.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{logger: logger.With("module", "logger_gateway")}
}

// SendMessage logs the message and returns a generated id so callback
// correlation still works end to end.
func (g *Gateway) SendMessage(ctx context.Context, message gateway.OutboundMessage) (*gateway.SendResult, error) {
	messageID := "log-" + uuid.NewString()

	g.logger.InfoContext(ctx, "Outbound message",
		"to", message.To,
		"template", message.Template.Name,
		"body", message.Template.Body,
		"journey_id", message.JourneyID,
		"enrollment_id", message.EnrollmentID,
		"node_id", message.NodeID,
		"message_id", messageID,
	)

	return &gateway.SendResult{MessageID: messageID}, nil
}
