package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/itinera/pkg/dedup"
	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/otelhelper"
	"github.com/dukex/itinera/pkg/persistence"
)

// dedupTTL bounds how long a callback's idempotency key is remembered.
// Providers redeliver within hours, not weeks.
const dedupTTL = 72 * time.Hour

// RouteSummary reports what a callback batch did.
type RouteSummary struct {
	Routed  int          `json:"routed"`
	Skipped int          `json:"skipped"`
	Errors  []RouteError `json:"errors,omitempty"`
}

// RouteError is one non-fatal failure while routing a callback record.
type RouteError struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// Router applies exit-path policies when gateway callbacks arrive for
// enrollments parked at an action node. It runs out of phase with the
// sweep; every enrollment write is version-checked and a lost race is a
// skip, retried only by the next natural event.
type Router struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	deduper     dedup.Deduper
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
}

// NewRouter creates an exit-path router.
func NewRouter(logger *slog.Logger, persist persistence.Persistence, deduper dedup.Deduper, publisher eventbus.EventPublisher, tracer trace.Tracer) *Router {
	return &Router{
		logger:      logger.With("module", "router"),
		persistence: persist,
		deduper:     deduper,
		publisher:   publisher,
		tracer:      tracer,
	}
}

// RouteStatuses routes a batch of delivery-status callbacks. Per-record
// failures never abort the batch.
func (r *Router) RouteStatuses(ctx context.Context, statuses []models.MessageStatus) *RouteSummary {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "journey.router route_statuses",
		attribute.Int("itinera.callback.batch_size", len(statuses)))
	defer span.End()

	summary := &RouteSummary{}

	for _, status := range statuses {
		kind, err := models.ParseCallbackKind(status.Status)
		if err != nil {
			summary.Errors = append(summary.Errors, RouteError{MessageID: status.MessageID, Message: err.Error()})

			continue
		}

		detail := map[string]any{
			"status": status.Status,
		}
		if !status.Timestamp.IsZero() {
			detail["timestamp"] = status.Timestamp
		}

		if status.Error != nil {
			detail["error_code"] = status.Error.Code
			detail["error_title"] = status.Error.Title
		}

		r.routeOne(ctx, summary, status.MessageID, kind, "", detail)
	}

	span.SetAttributes(
		attribute.Int("itinera.callback.routed", summary.Routed),
		attribute.Int("itinera.callback.skipped", summary.Skipped),
	)

	return summary
}

// RouteReplies routes a batch of interactive button replies.
func (r *Router) RouteReplies(ctx context.Context, replies []models.InteractiveReply) *RouteSummary {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "journey.router route_replies",
		attribute.Int("itinera.callback.batch_size", len(replies)))
	defer span.End()

	summary := &RouteSummary{}

	for _, reply := range replies {
		detail := map[string]any{
			"button_text": reply.ButtonText,
		}
		if reply.FromPhone != "" {
			detail["from_phone"] = reply.FromPhone
		}

		r.routeOne(ctx, summary, reply.MessageID, models.CallbackKindButtonClicked, reply.ButtonID, detail)
	}

	span.SetAttributes(
		attribute.Int("itinera.callback.routed", summary.Routed),
		attribute.Int("itinera.callback.skipped", summary.Skipped),
	)

	return summary
}

// routeOne applies one callback record end to end: resolve the parked
// enrollment, look up the exit path, guard against redelivery, apply the
// side effects and the action, then persist log-first.
func (r *Router) routeOne(ctx context.Context, summary *RouteSummary, messageID string, kind models.CallbackKind, buttonID string, detail map[string]any) {
	logger := r.logger.With("message_id", messageID, "kind", kind)

	enrollment, err := r.persistence.Enrollments().ByMessageID(ctx, messageID)
	if err != nil {
		if persistence.IsEnrollmentNotFound(err) {
			// The callback may belong to a non-journey send.
			logger.DebugContext(ctx, "No enrollment for message")
			summary.Skipped++

			return
		}

		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})

		return
	}

	logger = logger.With("enrollment_id", enrollment.ID)

	if !waitsOnCallbacks(enrollment) {
		logger.DebugContext(ctx, "Enrollment is not waiting on callbacks", "status", enrollment.Status)
		summary.Skipped++

		return
	}

	journey, err := r.persistence.Journeys().ByID(ctx, enrollment.JourneyID)
	if err != nil {
		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})

		return
	}

	node, ok := journey.NodeByID(enrollment.CurrentNodeID)
	if !ok {
		// Fail closed: the graph no longer carries the node the
		// enrollment is parked at.
		if err := r.failEnrollment(ctx, journey, enrollment, enrollment.CurrentNodeID, ErrMissingNode.Error()); err != nil {
			summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})

			return
		}

		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: ErrMissingNode.Error()})

		return
	}

	if node.Type != models.NodeTypeAction || node.Action == nil || node.Action.ExitPaths.Empty() {
		summary.Skipped++

		return
	}

	var (
		path  *models.ExitPath
		found bool
	)

	if kind == models.CallbackKindButtonClicked {
		path, found = node.Action.ExitPaths.ButtonPath(buttonID)
	} else {
		path, found = node.Action.ExitPaths.PathFor(kind)
	}

	if !found || !path.Enabled {
		logger.DebugContext(ctx, "No enabled exit path for callback")
		summary.Skipped++

		return
	}

	first, err := r.deduper.MarkOnce(ctx, dedupKey(messageID, kind, buttonID), dedupTTL)
	if err != nil {
		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: fmt.Sprintf("dedup check failed: %v", err)})

		return
	}

	if !first {
		logger.DebugContext(ctx, "Duplicate callback delivery")
		summary.Skipped++

		return
	}

	if path.Tracking != nil && path.Tracking.EventName != "" {
		tracking := events.TrackingRecorded{
			BaseEvent:    events.NewBaseEvent(events.TrackingRecordedEvent, journey.ID),
			EnrollmentID: enrollment.ID,
			CustomerID:   enrollment.CustomerID,
			NodeID:       node.ID,
			EventName:    path.Tracking.EventName,
		}
		tracking.Metadata = detail
		r.publishEvent(ctx, enrollment.ID, tracking)
	}

	if len(path.ProfileUpdates) > 0 {
		if err := r.applyProfileUpdates(ctx, journey, enrollment, node.ID, path.ProfileUpdates); err != nil {
			summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})
		}
	}

	actionTaken, actionErr := applyExitAction(journey, node, enrollment, path.Action)
	if actionErr != nil {
		// Definition error on the path: fail closed instead of leaving
		// the enrollment parked on a branch that resolves to nothing.
		if err := r.failEnrollment(ctx, journey, enrollment, node.ID, actionErr.Error()); err != nil {
			summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})

			return
		}

		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: actionErr.Error()})

		return
	}

	activityKind := models.ActivityCallbackRouted
	if path.Action.Type == models.ExitActionWait {
		activityKind = models.ActivityWaitStarted
	}

	meta := map[string]any{
		"kind":       string(kind),
		"message_id": messageID,
		"action":     actionTaken,
	}
	if buttonID != "" {
		meta["button_id"] = buttonID
	}

	for k, v := range detail {
		meta[k] = v
	}

	entry := models.NewActivity(enrollment, node.ID, activityKind, meta)

	if err := r.commit(ctx, enrollment, entry); err != nil {
		if persistence.IsEnrollmentConflict(err) {
			// Lost the race to a concurrent sweep; the next natural
			// event retries.
			logger.DebugContext(ctx, "Lost version race routing callback")
			summary.Skipped++

			return
		}

		summary.Errors = append(summary.Errors, RouteError{MessageID: messageID, Message: err.Error()})

		return
	}

	r.publishEvent(ctx, enrollment.ID, events.CallbackRouted{
		BaseEvent:    events.NewBaseEvent(events.CallbackRoutedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		NodeID:       node.ID,
		MessageID:    messageID,
		Kind:         kind,
		ButtonID:     buttonID,
		ActionTaken:  actionTaken,
	})

	if enrollment.Status == models.EnrollmentStatusExited {
		r.publishEvent(ctx, enrollment.ID, events.EnrollmentExited{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedEvent, journey.ID),
			EnrollmentID: enrollment.ID,
			CustomerID:   enrollment.CustomerID,
			NodeID:       node.ID,
			Reason:       "exit_path",
		})
	}

	summary.Routed++

	logger.InfoContext(ctx, "Routed callback", "action", actionTaken)
}

// waitsOnCallbacks reports whether the enrollment is parked in a state a
// callback may act on. Anything else means the callback is stale or lost
// a race, and routing it would re-apply a transition that already moved on.
func waitsOnCallbacks(enrollment *models.Enrollment) bool {
	if enrollment.Status != models.EnrollmentStatusWaiting || enrollment.WaitingFor == nil {
		return false
	}

	switch enrollment.WaitingFor.Type {
	case models.WaitTypeCallback, models.WaitTypeEngagementWait:
		return true
	case models.WaitTypeTimer:
		return false
	default:
		return false
	}
}

func dedupKey(messageID string, kind models.CallbackKind, buttonID string) string {
	key := messageID + ":" + string(kind)
	if buttonID != "" {
		key += ":" + buttonID
	}

	return key
}

// applyExitAction mutates the enrollment per the exit path's action and
// returns a label describing the transition. It never persists. Any
// previously recorded timeout path belongs to a wait the enrollment is now
// leaving, so it is dropped before the action applies.
func applyExitAction(journey *models.Journey, node *models.JourneyNode, enrollment *models.Enrollment, action models.ExitAction) (string, error) {
	enrollment.Metadata.TimeoutPath = ""

	switch action.Type {
	case models.ExitActionBranch:
		target, ok := resolveBranchTarget(journey, node.ID, action.BranchID)
		if !ok {
			return "", fmt.Errorf("branch %s: %w", action.BranchID, ErrBranchTargetMissing)
		}

		enrollment.MoveTo(target)

		return "branch:" + target, nil
	case models.ExitActionContinue:
		edge, ok := journey.EdgeFrom(node.ID)
		if !ok {
			return "", fmt.Errorf("node %s: %w", node.ID, ErrNoOutgoingEdge)
		}

		if _, exists := journey.NodeByID(edge.To); !exists {
			return "", fmt.Errorf("target %s: %w", edge.To, models.ErrDanglingEdge)
		}

		enrollment.MoveTo(edge.To)

		return "continue:" + edge.To, nil
	case models.ExitActionWait:
		timeoutAt := time.Now().UTC().Add(time.Duration(action.WaitMinutes) * time.Minute)
		enrollment.Metadata.TimeoutPath = action.TimeoutPath
		enrollment.Park(models.WaitTypeEngagementWait, timeoutAt)

		return "wait", nil
	case models.ExitActionExit:
		enrollment.Finish(models.EnrollmentStatusExited, "")

		return "exit", nil
	default:
		return "", fmt.Errorf("exit action %q: %w", action.Type, models.ErrInvalidNode)
	}
}

// resolveBranchTarget resolves a branch reference: first as a
// branch-labeled edge leaving the node, then as a direct node id.
func resolveBranchTarget(journey *models.Journey, fromNodeID, branchID string) (string, bool) {
	if branchID == "" {
		return "", false
	}

	if edge, ok := journey.EdgeByBranch(fromNodeID, branchID); ok {
		if _, exists := journey.NodeByID(edge.To); exists {
			return edge.To, true
		}

		return "", false
	}

	if _, ok := journey.NodeByID(branchID); ok {
		return branchID, true
	}

	return "", false
}

// applyProfileUpdates mutates the customer profile per the path's update
// list, saves it, and records the change in the activity log.
func (r *Router) applyProfileUpdates(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, nodeID string, updates []models.ProfileUpdate) error {
	customer, err := r.persistence.Customers().ByID(ctx, enrollment.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to load customer %s: %w", enrollment.CustomerID, err)
	}

	if customer.Attributes == nil {
		customer.Attributes = make(map[string]any)
	}

	properties := make([]string, 0, len(updates))

	for _, update := range updates {
		if err := applyProfileUpdate(customer, update); err != nil {
			return err
		}

		properties = append(properties, update.Property)
	}

	if err := r.persistence.Customers().Save(ctx, customer); err != nil {
		return fmt.Errorf("failed to save customer %s: %w", customer.ID, err)
	}

	entry := models.NewActivity(enrollment, nodeID, models.ActivityProfileUpdated, map[string]any{
		"properties": properties,
	})
	if err := r.persistence.Activities().Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	for _, update := range updates {
		r.publishEvent(ctx, customer.ID, events.ProfileUpdated{
			BaseEvent:  events.NewBaseEvent(events.ProfileUpdatedEvent, journey.ID),
			CustomerID: customer.ID,
			Property:   update.Property,
			Operation:  string(update.Operation),
		})
	}

	return nil
}

// applyProfileUpdate mutates one attribute. Increment coerces the current
// value to a number, treating anything non-numeric as zero; append turns
// a scalar into a list.
func applyProfileUpdate(customer *models.Customer, update models.ProfileUpdate) error {
	switch update.Operation {
	case models.ProfileOperationSet:
		customer.Attributes[update.Property] = update.Value
	case models.ProfileOperationIncrement:
		current, _ := toNumber(customer.Attributes[update.Property])
		delta, _ := toNumber(update.Value)
		customer.Attributes[update.Property] = current + delta
	case models.ProfileOperationAppend:
		switch existing := customer.Attributes[update.Property].(type) {
		case nil:
			customer.Attributes[update.Property] = []any{update.Value}
		case []any:
			customer.Attributes[update.Property] = append(existing, update.Value)
		default:
			customer.Attributes[update.Property] = []any{existing, update.Value}
		}
	default:
		return fmt.Errorf("profile operation %q: %w", update.Operation, models.ErrInvalidNode)
	}

	return nil
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func (r *Router) failEnrollment(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, nodeID, reason string) error {
	enrollment.Finish(models.EnrollmentStatusFailed, reason)

	entry := models.NewActivity(enrollment, nodeID, models.ActivityFailed, map[string]any{
		"reason": reason,
	})
	if err := r.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	r.publishEvent(ctx, enrollment.ID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		NodeID:       nodeID,
		Error:        reason,
	})

	return nil
}

// commit appends the activity entry first, then applies the
// version-checked enrollment update.
func (r *Router) commit(ctx context.Context, enrollment *models.Enrollment, entry *models.ActivityEntry) error {
	if entry != nil {
		if err := r.persistence.Activities().Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append activity: %w", err)
		}
	}

	if err := r.persistence.Enrollments().Update(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	return nil
}

func (r *Router) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if err := r.publisher.Publish(ctx, key, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}
