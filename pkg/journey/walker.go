package journey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/segment"
)

// maxWalkSteps bounds a single walk so a graph that cycles without ever
// parking cannot spin forever.
const maxWalkSteps = 64

// StepResult reports what one walk did to an enrollment.
type StepResult struct {
	Steps  int
	Status models.EnrollmentStatus
}

// Walker advances one enrollment through its journey graph, node by node,
// stopping at the first node that needs external input. Every transition
// appends an activity entry first and then applies a version-checked
// enrollment update, so a racing callback loses cleanly.
type Walker struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	gateway     gateway.Gateway
	publisher   eventbus.EventPublisher
}

// NewWalker creates a node graph walker.
func NewWalker(logger *slog.Logger, persist persistence.Persistence, gw gateway.Gateway, publisher eventbus.EventPublisher) *Walker {
	return &Walker{
		logger:      logger.With("module", "walker"),
		persistence: persist,
		gateway:     gw,
		publisher:   publisher,
	}
}

// Advance walks the enrollment until it parks, reaches a terminal state or
// errors. Definition errors fail the enrollment and are still returned so
// the sweep summary carries them; infrastructure errors leave the
// enrollment untouched for the next sweep.
func (w *Walker) Advance(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment) (*StepResult, error) {
	result := &StepResult{Status: enrollment.Status}

	for enrollment.Status == models.EnrollmentStatusActive {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if result.Steps >= maxWalkSteps {
			err := w.failStep(ctx, journey.ID, enrollment, enrollment.CurrentNodeID, models.ActivityFailed, ErrWalkLimitExceeded)
			result.Status = enrollment.Status

			return result, err
		}

		node, ok := journey.NodeByID(enrollment.CurrentNodeID)
		if !ok {
			err := w.failStep(ctx, journey.ID, enrollment, enrollment.CurrentNodeID, models.ActivityFailed, ErrMissingNode)
			result.Status = enrollment.Status

			return result, err
		}

		if err := w.step(ctx, journey, enrollment, node); err != nil {
			result.Status = enrollment.Status

			return result, err
		}

		result.Steps++
	}

	result.Status = enrollment.Status

	return result, nil
}

// Resume continues a waiting enrollment whose timer elapsed. Timer waits
// follow the delay node's outgoing edge and keep walking; engagement waits
// follow the recorded timeout path, or stay waiting when none is set.
func (w *Walker) Resume(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment) (*StepResult, bool, error) {
	result := &StepResult{Status: enrollment.Status}

	if enrollment.Status != models.EnrollmentStatusWaiting || enrollment.WaitingFor == nil {
		return result, false, nil
	}

	node, ok := journey.NodeByID(enrollment.CurrentNodeID)
	if !ok {
		err := w.failStep(ctx, journey.ID, enrollment, enrollment.CurrentNodeID, models.ActivityFailed, ErrMissingNode)
		result.Status = enrollment.Status

		return result, false, err
	}

	switch enrollment.WaitingFor.Type {
	case models.WaitTypeTimer:
		edge, ok := journey.EdgeFrom(node.ID)
		if !ok {
			err := w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, ErrNoOutgoingEdge)
			result.Status = enrollment.Status

			return result, false, err
		}

		entry := models.NewActivity(enrollment, node.ID, models.ActivityDelayElapsed, map[string]any{
			"to": edge.To,
		})

		return w.resumeAt(ctx, journey, enrollment, node, edge.To, entry, result)
	case models.WaitTypeEngagementWait:
		if enrollment.Metadata.TimeoutPath == "" {
			// Recorded decision: an engagement wait without a timeout
			// path waits indefinitely for the customer's next callback.
			return result, false, nil
		}

		timeoutPath := enrollment.Metadata.TimeoutPath

		target, ok := resolveBranchTarget(journey, node.ID, timeoutPath)
		if !ok {
			err := w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, fmt.Errorf("timeout path %s: %w", timeoutPath, ErrBranchTargetMissing))
			result.Status = enrollment.Status

			return result, false, err
		}

		enrollment.Metadata.TimeoutPath = ""

		entry := models.NewActivity(enrollment, node.ID, models.ActivityWaitTimedOut, map[string]any{
			"timeout_path": timeoutPath,
			"to":           target,
		})

		return w.resumeAt(ctx, journey, enrollment, node, target, entry, result)
	case models.WaitTypeCallback:
		return result, false, nil
	default:
		w.logger.WarnContext(ctx, "Enrollment waits on an unknown wait type",
			"enrollment_id", enrollment.ID,
			"wait_type", enrollment.WaitingFor.Type)

		return result, false, nil
	}
}

// resumeAt repositions the enrollment and continues the walk from there.
func (w *Walker) resumeAt(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, from *models.JourneyNode, toNodeID string, entry *models.ActivityEntry, result *StepResult) (*StepResult, bool, error) {
	if err := w.move(ctx, journey, enrollment, from, toNodeID, entry); err != nil {
		result.Status = enrollment.Status

		return result, false, err
	}

	walked, err := w.Advance(ctx, journey, enrollment)
	result.Steps = walked.Steps + 1
	result.Status = walked.Status

	return result, true, err
}

// step applies one node transition. The switch is exhaustive over node
// types; an unknown type fails the enrollment.
func (w *Walker) step(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	switch node.Type {
	case models.NodeTypeTrigger:
		return w.stepTrigger(ctx, journey, enrollment, node)
	case models.NodeTypeAction:
		return w.stepAction(ctx, journey, enrollment, node)
	case models.NodeTypeCondition:
		return w.stepCondition(ctx, journey, enrollment, node)
	case models.NodeTypeDelay:
		return w.stepDelay(ctx, journey, enrollment, node)
	case models.NodeTypeABTest:
		return w.stepABTest(ctx, journey, enrollment, node)
	case models.NodeTypeGoal:
		return w.finishGoal(ctx, journey, enrollment, node)
	case models.NodeTypeExit:
		return w.finishExit(ctx, journey, enrollment, node)
	default:
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, fmt.Errorf("node type %q: %w", node.Type, models.ErrInvalidNode))
	}
}

// stepTrigger moves past the trigger along its only outgoing edge. An
// enrollment never sits idle at the trigger node.
func (w *Walker) stepTrigger(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	edge, ok := journey.EdgeFrom(node.ID)
	if !ok {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, ErrNoOutgoingEdge)
	}

	return w.move(ctx, journey, enrollment, node, edge.To, nil)
}

// stepAction sends the node's message and parks the enrollment at the
// node. Advancement past a send happens only through the router. A
// transient gateway failure leaves the enrollment in place for the next
// sweep; a permanent rejection fails it, since no status callback will
// ever arrive for a message the provider refused.
func (w *Walker) stepAction(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	if node.Action == nil {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, models.ErrInvalidNode)
	}

	if w.gateway == nil {
		return fmt.Errorf("journey %s: node %s: %w", journey.ID, node.ID, gateway.ErrGatewayNotConfigured)
	}

	customer, err := w.persistence.Customers().ByID(ctx, enrollment.CustomerID)
	if err != nil {
		if persistence.IsCustomerNotFound(err) {
			return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, err)
		}

		return fmt.Errorf("failed to load customer %s: %w", enrollment.CustomerID, err)
	}

	sent, err := w.gateway.SendMessage(ctx, gateway.OutboundMessage{
		To:           customer.Phone,
		Template:     node.Action.Template,
		JourneyID:    journey.ID,
		EnrollmentID: enrollment.ID,
		NodeID:       node.ID,
	})
	if err != nil {
		if gateway.IsPermanent(err) {
			return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, fmt.Errorf("send rejected: %w", err))
		}

		return fmt.Errorf("journey %s: node %s: send failed: %w", journey.ID, node.ID, err)
	}

	enrollment.Metadata.MessageID = sent.MessageID
	enrollment.Park(models.WaitTypeCallback, time.Time{})

	entry := models.NewActivity(enrollment, node.ID, models.ActivityMessageSent, map[string]any{
		"message_id": sent.MessageID,
		"template":   node.Action.Template.Name,
	})
	if err := w.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	w.publishEvent(ctx, enrollment.ID, events.MessageSent{
		BaseEvent:    events.NewBaseEvent(events.MessageSentEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		NodeID:       node.ID,
		MessageID:    sent.MessageID,
		TemplateName: node.Action.Template.Name,
	})

	return nil
}

// stepCondition evaluates the node's predicate and follows the match or
// else edge. An unlabeled edge serves as the fallback for either outcome;
// no edge at all fails the enrollment.
func (w *Walker) stepCondition(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	if node.Condition == nil {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, models.ErrInvalidNode)
	}

	groups := node.Condition.Groups

	if node.Condition.SegmentID != "" {
		seg, err := w.persistence.Segments().ByID(ctx, node.Condition.SegmentID)
		if err != nil {
			if persistence.IsSegmentNotFound(err) {
				return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, err)
			}

			return fmt.Errorf("failed to load segment %s: %w", node.Condition.SegmentID, err)
		}

		groups = seg.Groups
	}

	customer, err := w.persistence.Customers().ByID(ctx, enrollment.CustomerID)
	if err != nil {
		if persistence.IsCustomerNotFound(err) {
			return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, err)
		}

		return fmt.Errorf("failed to load customer %s: %w", enrollment.CustomerID, err)
	}

	matched := segment.Matches(customer, groups)

	branch := "match"
	if !matched {
		branch = "else"
	}

	edge, ok := journey.EdgeByBranch(node.ID, branch)
	if !ok {
		edge, ok = journey.EdgeByBranch(node.ID, "")
	}

	if !ok {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityNoBranchMatched, ErrNoMatchingBranch)
	}

	entry := models.NewActivity(enrollment, node.ID, models.ActivityBranchMatched, map[string]any{
		"matched": matched,
		"to":      edge.To,
	})

	return w.move(ctx, journey, enrollment, node, edge.To, entry)
}

// stepDelay parks the enrollment on a timer; a later sweep resumes it.
func (w *Walker) stepDelay(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	if node.Delay == nil {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, models.ErrInvalidNode)
	}

	wait, err := node.Delay.Wait()
	if err != nil {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, err)
	}

	resumeAt := time.Now().UTC().Add(wait)
	enrollment.Park(models.WaitTypeTimer, resumeAt)

	entry := models.NewActivity(enrollment, node.ID, models.ActivityDelayStarted, map[string]any{
		"resume_at": resumeAt,
	})

	return w.commit(ctx, enrollment, entry)
}

// stepABTest assigns a variant deterministically and follows its edge. A
// variant already recorded on the enrollment is reused so a replayed walk
// cannot flip the assignment.
func (w *Walker) stepABTest(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	variantID, assigned := enrollment.Metadata.Variants[node.ID]
	if !assigned {
		allocated, err := AllocateVariant(enrollment.ID, node.ID, node.ABTest)
		if err != nil {
			return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, err)
		}

		variantID = allocated
		enrollment.AssignVariant(node.ID, variantID)
	}

	edge, ok := journey.EdgeByBranch(node.ID, variantID)
	if !ok {
		return w.failStep(ctx, journey.ID, enrollment, node.ID, models.ActivityFailed, fmt.Errorf("variant %s: %w", variantID, ErrBranchTargetMissing))
	}

	entry := models.NewActivity(enrollment, node.ID, models.ActivityVariantAssigned, map[string]any{
		"variant": variantID,
		"to":      edge.To,
	})

	return w.move(ctx, journey, enrollment, node, edge.To, entry)
}

func (w *Walker) finishGoal(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	enrollment.Finish(models.EnrollmentStatusCompleted, "")

	entry := models.NewActivity(enrollment, node.ID, models.ActivityGoalReached, nil)
	if err := w.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	w.publishEvent(ctx, enrollment.ID, events.EnrollmentCompleted{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		GoalNodeID:   node.ID,
	})

	w.logger.InfoContext(ctx, "Enrollment completed",
		"journey_id", journey.ID,
		"enrollment_id", enrollment.ID,
		"goal_node_id", node.ID)

	return nil
}

func (w *Walker) finishExit(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, node *models.JourneyNode) error {
	enrollment.Finish(models.EnrollmentStatusExited, "")

	entry := models.NewActivity(enrollment, node.ID, models.ActivityExited, nil)
	if err := w.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	w.publishEvent(ctx, enrollment.ID, events.EnrollmentExited{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		NodeID:       node.ID,
		Reason:       "exit_node",
	})

	return nil
}

// move repositions the enrollment at toNodeID and makes it walkable
// again. A target missing from the graph fails the enrollment instead.
func (w *Walker) move(ctx context.Context, journey *models.Journey, enrollment *models.Enrollment, from *models.JourneyNode, toNodeID string, entry *models.ActivityEntry) error {
	if _, ok := journey.NodeByID(toNodeID); !ok {
		return w.failStep(ctx, journey.ID, enrollment, from.ID, models.ActivityFailed, fmt.Errorf("target %s: %w", toNodeID, models.ErrDanglingEdge))
	}

	enrollment.MoveTo(toNodeID)

	if err := w.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	w.publishEvent(ctx, enrollment.ID, events.EnrollmentAdvanced{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentAdvancedEvent, journey.ID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		FromNodeID:   from.ID,
		ToNodeID:     toNodeID,
	})

	return nil
}

// commit appends the activity entry and then applies the version-checked
// enrollment update. Activity goes first so a crash between the writes
// never drops the audit trail for a state change that took effect.
func (w *Walker) commit(ctx context.Context, enrollment *models.Enrollment, entry *models.ActivityEntry) error {
	if entry != nil {
		if err := w.persistence.Activities().Append(ctx, entry); err != nil {
			return fmt.Errorf("failed to append activity: %w", err)
		}
	}

	if err := w.persistence.Enrollments().Update(ctx, enrollment); err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	return nil
}

// failStep fails the enrollment for a definition error and returns the
// error with journey and node context so the sweep summary carries it.
func (w *Walker) failStep(ctx context.Context, journeyID string, enrollment *models.Enrollment, nodeID string, kind models.ActivityKind, defErr error) error {
	if err := w.fail(ctx, journeyID, enrollment, nodeID, kind, defErr.Error()); err != nil {
		return err
	}

	return fmt.Errorf("journey %s: node %s: %w", journeyID, nodeID, defErr)
}

// fail moves the enrollment to failed and records why.
func (w *Walker) fail(ctx context.Context, journeyID string, enrollment *models.Enrollment, nodeID string, kind models.ActivityKind, reason string) error {
	enrollment.Finish(models.EnrollmentStatusFailed, reason)

	entry := models.NewActivity(enrollment, nodeID, kind, map[string]any{
		"reason": reason,
	})
	if err := w.commit(ctx, enrollment, entry); err != nil {
		return err
	}

	w.publishEvent(ctx, enrollment.ID, events.EnrollmentFailed{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedEvent, journeyID),
		EnrollmentID: enrollment.ID,
		CustomerID:   enrollment.CustomerID,
		NodeID:       nodeID,
		Error:        reason,
	})

	w.logger.WarnContext(ctx, "Enrollment failed",
		"journey_id", journeyID,
		"enrollment_id", enrollment.ID,
		"node_id", nodeID,
		"reason", reason)

	return nil
}

func (w *Walker) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if err := w.publisher.Publish(ctx, key, event); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}
