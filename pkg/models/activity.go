package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind names the audit record written for each walk transition.
type ActivityKind string

const (
	ActivityEnrolled        ActivityKind = "enrolled"
	ActivityMessageSent     ActivityKind = "message_sent"
	ActivityBranchMatched   ActivityKind = "branch_matched"
	ActivityNoBranchMatched ActivityKind = "no_branch_matched"
	ActivityDelayStarted    ActivityKind = "delay_started"
	ActivityDelayElapsed    ActivityKind = "delay_elapsed"
	ActivityVariantAssigned ActivityKind = "variant_assigned"
	ActivityGoalReached     ActivityKind = "goal_reached"
	ActivityExited          ActivityKind = "exited"
	ActivityFailed          ActivityKind = "failed"
	ActivityCallbackRouted  ActivityKind = "callback_routed"
	ActivityProfileUpdated  ActivityKind = "profile_updated"
	ActivityWaitStarted     ActivityKind = "wait_started"
	ActivityWaitTimedOut    ActivityKind = "wait_timed_out"
)

// ActivityEntry is one append-only audit record. Entries are written
// before the enrollment state they describe and never mutated.
type ActivityEntry struct {
	ID           string         `json:"id"`
	EnrollmentID string         `json:"enrollment_id" validate:"required"`
	JourneyID    string         `json:"journey_id"    validate:"required"`
	NodeID       string         `json:"node_id"`
	Kind         ActivityKind   `json:"kind"          validate:"required"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewActivity builds an audit record for an enrollment transition.
func NewActivity(e *Enrollment, nodeID string, kind ActivityKind, metadata map[string]any) *ActivityEntry {
	return &ActivityEntry{
		ID:           uuid.NewString(),
		EnrollmentID: e.ID,
		JourneyID:    e.JourneyID,
		NodeID:       nodeID,
		Kind:         kind,
		Timestamp:    time.Now().UTC(),
		Metadata:     metadata,
	}
}
