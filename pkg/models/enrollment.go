package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"    // Walkable on the next sweep
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"   // Parked on a timer or callback
	EnrollmentStatusCompleted EnrollmentStatus = "completed" // Terminal, goal reached
	EnrollmentStatusExited    EnrollmentStatus = "exited"    // Terminal, explicit exit
	EnrollmentStatusFailed    EnrollmentStatus = "failed"    // Terminal, graph or send failure
)

// WaitType discriminates what a waiting enrollment is waiting for.
type WaitType string

const (
	WaitTypeTimer          WaitType = "timer"           // Delay node timer
	WaitTypeEngagementWait WaitType = "engagement_wait" // Exit-path wait window
	WaitTypeCallback       WaitType = "callback"        // Parked at a send, no deadline
)

// WaitingFor records the event a waiting enrollment resumes on. TimeoutAt
// is zero for callback waits, which have no deadline of their own.
type WaitingFor struct {
	Type      WaitType  `json:"type"`
	TimeoutAt time.Time `json:"timeout_at,omitzero"`
}

// EnrollmentMetadata carries walk state that is not part of the status
// machine: the last outbound message id, the engagement-wait timeout
// branch, per-node A/B assignments and the terminal failure reason.
type EnrollmentMetadata struct {
	MessageID     string            `json:"message_id,omitempty"`
	TimeoutPath   string            `json:"timeout_path,omitempty"`
	Variants      map[string]string `json:"variants,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Enrollment is one customer's traversal of one journey. It is owned by
// the enrollment manager; the walker and router mutate it only through
// version-checked updates, so a sweep and a callback racing on the same
// record lose cleanly instead of overwriting each other.
type Enrollment struct {
	ID             string             `json:"id"`
	JourneyID      string             `json:"journey_id"  validate:"required"`
	CustomerID     string             `json:"customer_id" validate:"required"`
	CurrentNodeID  string             `json:"current_node_id"`
	Status         EnrollmentStatus   `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	WaitingFor     *WaitingFor        `json:"waiting_for,omitempty"`
	Metadata       EnrollmentMetadata `json:"metadata"`
	Version        int64              `json:"version"`
}

// NewEnrollment creates an active enrollment positioned at the trigger node.
func NewEnrollment(journeyID, customerID, triggerNodeID string) *Enrollment {
	now := time.Now().UTC()

	return &Enrollment{
		ID:             uuid.NewString(),
		JourneyID:      journeyID,
		CustomerID:     customerID,
		CurrentNodeID:  triggerNodeID,
		Status:         EnrollmentStatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// IsTerminal reports whether the enrollment reached a final state.
func (e *Enrollment) IsTerminal() bool {
	switch e.Status {
	case EnrollmentStatusCompleted, EnrollmentStatusExited, EnrollmentStatusFailed:
		return true
	case EnrollmentStatusActive, EnrollmentStatusWaiting:
		return false
	default:
		return false
	}
}

// Blocks reports whether this enrollment prevents a new enrollment of the
// same customer into the same journey: any live enrollment blocks.
func (e *Enrollment) Blocks() bool {
	return e.Status == EnrollmentStatusActive || e.Status == EnrollmentStatusWaiting
}

// CompletionTime returns the timestamp the re-entry cooldown counts from.
func (e *Enrollment) CompletionTime() time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}

	return e.LastActivityAt
}

// MoveTo repositions the enrollment at a node and makes it walkable again.
func (e *Enrollment) MoveTo(nodeID string) {
	e.CurrentNodeID = nodeID
	e.Status = EnrollmentStatusActive
	e.WaitingFor = nil
	e.LastActivityAt = time.Now().UTC()
}

// Park sets the enrollment waiting at its current node.
func (e *Enrollment) Park(wait WaitType, timeoutAt time.Time) {
	e.Status = EnrollmentStatusWaiting
	e.WaitingFor = &WaitingFor{Type: wait, TimeoutAt: timeoutAt}
	e.LastActivityAt = time.Now().UTC()
}

// Finish moves the enrollment into a terminal state and stamps CompletedAt.
func (e *Enrollment) Finish(status EnrollmentStatus, reason string) {
	now := time.Now().UTC()
	e.Status = status
	e.WaitingFor = nil
	e.CompletedAt = &now
	e.LastActivityAt = now

	if reason != "" {
		e.Metadata.FailureReason = reason
	}
}

// AssignVariant records a deterministic A/B assignment for a node.
func (e *Enrollment) AssignVariant(nodeID, variantID string) {
	if e.Metadata.Variants == nil {
		e.Metadata.Variants = make(map[string]string)
	}

	e.Metadata.Variants[nodeID] = variantID
}
