package journey

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/models"
)

func TestWalker_SendsAndParksAtAction(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	enrollment := f.enrollAndPark(t, journey)

	assert.Equal(t, "node_send", enrollment.CurrentNodeID)
	require.NotNil(t, enrollment.WaitingFor)
	assert.Equal(t, models.WaitTypeCallback, enrollment.WaitingFor.Type)
	assert.True(t, enrollment.WaitingFor.TimeoutAt.IsZero())
	assert.Equal(t, "wamid-001", enrollment.Metadata.MessageID)

	require.Equal(t, 1, f.gateway.sentCount())
	assert.Equal(t, vipCustomer().Phone, f.gateway.sent[0].To)
	assert.Equal(t, "welcome_vip", f.gateway.sent[0].Template.Name)

	kinds := f.activityKinds(t, enrollment.ID)
	assert.Equal(t, []models.ActivityKind{
		models.ActivityEnrolled,
		models.ActivityBranchMatched,
		models.ActivityMessageSent,
	}, kinds)

	assert.Len(t, f.publisher.ofType(events.EnrollmentAdvancedEvent), 2)
	assert.Len(t, f.publisher.ofType(events.MessageSentEvent), 1)

	// The stored copy matches what the walk left in memory.
	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, enrollment.Status, stored.Status)
	assert.Equal(t, enrollment.Version, stored.Version)
}

func TestWalker_ConditionElseBranchExits(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	f.saveJourney(t, journey)
	f.saveCustomer(t, regularCustomer())

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, regularCustomer().ID)
	require.NoError(t, err)

	result, err := f.walker.Advance(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusExited, result.Status)
	assert.Equal(t, "node_exit", enrollment.CurrentNodeID)
	assert.NotNil(t, enrollment.CompletedAt)
	assert.Zero(t, f.gateway.sentCount())
	assert.Len(t, f.publisher.ofType(events.EnrollmentExitedEvent), 1)
}

func TestWalker_ConditionFallsBackToUnlabeledEdge(t *testing.T) {
	f := newFixture(t)
	journey := &models.Journey{
		ID:     "journey-fallback",
		Name:   "Fallback branch",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindManual},
			},
			{
				ID:   "node_check",
				Type: models.NodeTypeCondition,
				Condition: &models.ConditionConfig{
					Groups: []models.ConditionGroup{{
						Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
					}},
				},
			},
			{ID: "node_goal", Type: models.NodeTypeGoal},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_check"},
			{ID: "e2", From: "node_check", To: "node_goal"},
		},
	}
	f.saveJourney(t, journey)
	f.saveCustomer(t, regularCustomer())

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, regularCustomer().ID)
	require.NoError(t, err)

	result, err := f.walker.Advance(t.Context(), journey, enrollment)
	require.NoError(t, err)

	// No else edge, so the mismatch follows the unlabeled edge.
	assert.Equal(t, models.EnrollmentStatusCompleted, result.Status)
	assert.Equal(t, "node_goal", enrollment.CurrentNodeID)
}

func TestWalker_ConditionWithoutBranchFails(t *testing.T) {
	f := newFixture(t)
	journey := &models.Journey{
		ID:     "journey-deadend",
		Name:   "Dead-end condition",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindManual},
			},
			{
				ID:   "node_check",
				Type: models.NodeTypeCondition,
				Condition: &models.ConditionConfig{
					Groups: []models.ConditionGroup{{
						Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
					}},
				},
			},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_check"},
		},
	}
	f.saveJourney(t, journey)
	f.saveCustomer(t, vipCustomer())

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.ErrorIs(t, err, ErrNoMatchingBranch)

	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Contains(t, enrollment.Metadata.FailureReason, "no matching branch")

	kinds := f.activityKinds(t, enrollment.ID)
	assert.Contains(t, kinds, models.ActivityNoBranchMatched)
	assert.Len(t, f.publisher.ofType(events.EnrollmentFailedEvent), 1)
}

func TestWalker_DelayParksOnTimer(t *testing.T) {
	f := newFixture(t)
	journey := delayJourney()
	f.saveJourney(t, journey)

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, "customer-vip")
	require.NoError(t, err)

	before := time.Now().UTC()

	result, err := f.walker.Advance(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusWaiting, result.Status)
	assert.Equal(t, "node_wait", enrollment.CurrentNodeID)
	require.NotNil(t, enrollment.WaitingFor)
	assert.Equal(t, models.WaitTypeTimer, enrollment.WaitingFor.Type)
	assert.True(t, enrollment.WaitingFor.TimeoutAt.After(before.Add(29*time.Minute)))
	assert.True(t, enrollment.WaitingFor.TimeoutAt.Before(before.Add(31*time.Minute)))
}

func TestWalker_ResumeAfterTimerReachesGoal(t *testing.T) {
	f := newFixture(t)
	journey := delayJourney()
	f.saveJourney(t, journey)

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, "customer-vip")
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.NoError(t, err)

	result, resumed, err := f.walker.Resume(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.True(t, resumed)
	assert.Equal(t, models.EnrollmentStatusCompleted, result.Status)

	kinds := f.activityKinds(t, enrollment.ID)
	assert.Equal(t, []models.ActivityKind{
		models.ActivityEnrolled,
		models.ActivityDelayStarted,
		models.ActivityDelayElapsed,
		models.ActivityGoalReached,
	}, kinds)
	assert.Len(t, f.publisher.ofType(events.EnrollmentCompletedEvent), 1)
}

func TestWalker_ResumeIgnoresCallbackParks(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	enrollment := f.enrollAndPark(t, journey)

	_, resumed, err := f.walker.Resume(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.False(t, resumed)
	assert.Equal(t, models.EnrollmentStatusWaiting, enrollment.Status)
}

func TestWalker_ResumeEngagementTimeoutFollowsPath(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	enrollment := f.enrollAndPark(t, journey)

	enrollment.Metadata.TimeoutPath = "node_exit"
	enrollment.Park(models.WaitTypeEngagementWait, time.Now().UTC().Add(-time.Minute))
	f.update(t, enrollment)

	result, resumed, err := f.walker.Resume(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.True(t, resumed)
	assert.Equal(t, models.EnrollmentStatusExited, result.Status)
	assert.Empty(t, enrollment.Metadata.TimeoutPath)

	kinds := f.activityKinds(t, enrollment.ID)
	assert.Contains(t, kinds, models.ActivityWaitTimedOut)
}

func TestWalker_ResumeEngagementWithoutPathKeepsWaiting(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	enrollment := f.enrollAndPark(t, journey)

	enrollment.Park(models.WaitTypeEngagementWait, time.Now().UTC().Add(-time.Minute))
	f.update(t, enrollment)

	_, resumed, err := f.walker.Resume(t.Context(), journey, enrollment)
	require.NoError(t, err)

	assert.False(t, resumed)
	assert.Equal(t, models.EnrollmentStatusWaiting, enrollment.Status)
}

func TestWalker_PermanentSendFailureFailsEnrollment(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	f.saveJourney(t, journey)
	f.saveCustomer(t, vipCustomer())
	f.gateway.err = &gateway.SendError{Code: 131026, Detail: "recipient not on whatsapp", Permanent: true}

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.Error(t, err)

	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Contains(t, enrollment.Metadata.FailureReason, "send rejected")
	assert.Zero(t, f.gateway.sentCount())
}

func TestWalker_TransientSendFailureLeavesEnrollmentRetryable(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	f.saveJourney(t, journey)
	f.saveCustomer(t, vipCustomer())
	f.gateway.err = errors.New("gateway timeout")

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.Error(t, err)

	// The enrollment stays active at the action node for the next sweep.
	stored := f.reload(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Equal(t, "node_send", stored.CurrentNodeID)

	f.gateway.err = nil

	result, err := f.walker.Advance(t.Context(), journey, stored)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaiting, result.Status)
	assert.Equal(t, 1, f.gateway.sentCount())
}

func TestWalker_MissingCustomerFailsSend(t *testing.T) {
	f := newFixture(t)
	journey := vipJourney()
	f.saveJourney(t, journey)
	f.saveCustomer(t, vipCustomer())

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)

	// Walk to the send, then lose the customer record before retrying a
	// transient failure.
	f.gateway.err = errors.New("gateway timeout")
	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.Error(t, err)

	f.gateway.err = nil
	orphan := f.reload(t, enrollment.ID)
	orphan.CustomerID = "customer-ghost"
	f.update(t, orphan)

	_, err = f.walker.Advance(t.Context(), journey, orphan)
	require.Error(t, err)
	assert.Equal(t, models.EnrollmentStatusFailed, orphan.Status)
}

func TestWalker_ABTestAssignsOnceAndReuses(t *testing.T) {
	f := newFixture(t)
	journey := &models.Journey{
		ID:     "journey-ab",
		Name:   "Split test",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindManual},
			},
			{
				ID:   "node_ab",
				Type: models.NodeTypeABTest,
				ABTest: &models.ABTestConfig{Variants: []models.Variant{
					{ID: "variant_a", Weight: 50},
					{ID: "variant_b", Weight: 50},
				}},
			},
			{ID: "node_goal", Type: models.NodeTypeGoal},
			{ID: "node_exit", Type: models.NodeTypeExit},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_ab"},
			{ID: "e2", From: "node_ab", To: "node_goal", Branch: "variant_a"},
			{ID: "e3", From: "node_ab", To: "node_exit", Branch: "variant_b"},
		},
	}
	f.saveJourney(t, journey)

	// A pre-recorded assignment wins over the hash.
	pinned, _, err := f.enroller.TryEnroll(t.Context(), journey, "customer-pinned")
	require.NoError(t, err)
	pinned.AssignVariant("node_ab", "variant_b")

	result, err := f.walker.Advance(t.Context(), journey, pinned)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, result.Status)

	// A fresh enrollment records whichever variant the hash picked.
	fresh, _, err := f.enroller.TryEnroll(t.Context(), journey, "customer-fresh")
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, fresh)
	require.NoError(t, err)

	variant := fresh.Metadata.Variants["node_ab"]
	assert.Contains(t, []string{"variant_a", "variant_b"}, variant)

	expected := models.EnrollmentStatusCompleted
	if variant == "variant_b" {
		expected = models.EnrollmentStatusExited
	}

	assert.Equal(t, expected, fresh.Status)
}

func TestWalker_DanglingEdgeFailsEnrollment(t *testing.T) {
	f := newFixture(t)
	journey := &models.Journey{
		ID:     "journey-ghost",
		Name:   "Dangling edge",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindManual},
			},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_ghost"},
		},
	}
	f.saveJourney(t, journey)

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, "customer-vip")
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.ErrorIs(t, err, models.ErrDanglingEdge)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
}

func TestWalker_WalkLimitBreaksCycles(t *testing.T) {
	f := newFixture(t)
	journey := &models.Journey{
		ID:     "journey-cycle",
		Name:   "Cyclic graph",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindManual},
			},
			{
				ID:   "node_a",
				Type: models.NodeTypeCondition,
				Condition: &models.ConditionConfig{
					Groups: []models.ConditionGroup{{
						Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
					}},
				},
			},
			{
				ID:   "node_b",
				Type: models.NodeTypeCondition,
				Condition: &models.ConditionConfig{
					Groups: []models.ConditionGroup{{
						Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
					}},
				},
			},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_a"},
			{ID: "e2", From: "node_a", To: "node_b"},
			{ID: "e3", From: "node_b", To: "node_a"},
		},
	}
	f.saveJourney(t, journey)
	f.saveCustomer(t, vipCustomer())

	enrollment, _, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.ErrorIs(t, err, ErrWalkLimitExceeded)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
}
