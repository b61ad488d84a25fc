package services

import (
	"context"

	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/models"
)

// Callback ingests delivery-status and interactive-reply batches from the
// messaging gateway and hands them to the exit-path router.
type Callback struct {
	router *journey.Router
}

// NewCallback creates a new callback service.
func NewCallback(router *journey.Router) *Callback {
	return &Callback{router: router}
}

// IngestStatuses routes a batch of message status callbacks.
func (s *Callback) IngestStatuses(ctx context.Context, statuses []models.MessageStatus) *journey.RouteSummary {
	return s.router.RouteStatuses(ctx, statuses)
}

// IngestReplies routes a batch of interactive button replies.
func (s *Callback) IngestReplies(ctx context.Context, replies []models.InteractiveReply) *journey.RouteSummary {
	return s.router.RouteReplies(ctx, replies)
}
