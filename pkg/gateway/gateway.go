// Package gateway defines the outbound messaging boundary. The engine
// hands fully resolved templates to a Gateway and correlates the returned
// message id with later delivery callbacks.
package gateway

import (
	"context"
	"errors"

	"github.com/dukex/itinera/pkg/models"
)

// ErrGatewayNotConfigured is returned when no messaging provider is wired.
var ErrGatewayNotConfigured = errors.New("message gateway not configured")

// OutboundMessage is one send request produced by an action node.
type OutboundMessage struct {
	To           string
	Template     models.MessageTemplate
	JourneyID    string
	EnrollmentID string
	NodeID       string
}

// SendResult carries the provider message id used to route callbacks back
// to the enrollment.
type SendResult struct {
	MessageID string
}

// Gateway sends messages through a provider.
type Gateway interface {
	SendMessage(ctx context.Context, message OutboundMessage) (*SendResult, error)
}

// SendError is a send failure classified by permanence. Transient failures
// leave the enrollment in place for a later retry; permanent ones fail the
// enrollment.
type SendError struct {
	Code      int
	Detail    string
	Permanent bool
}

func (e *SendError) Error() string {
	return e.Detail
}

// IsPermanent reports whether the error is a permanent delivery failure.
// Unclassified errors count as transient so the enrollment is retried.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}

	return false
}
