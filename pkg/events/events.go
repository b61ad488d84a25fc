// Package events defines the notifications the engine publishes while
// enrollments move through journeys, plus the inbound customer events that
// feed event triggers.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/itinera/pkg/models"
)

// EventType discriminates event payloads on the bus.
type EventType string

// Topic is the Kafka topic all engine events share.
const Topic = "itinera.events"

// CustomerEventsTopic carries inbound customer events consumed by event
// triggers.
const CustomerEventsTopic = "itinera.customer-events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Enrollment lifecycle events.
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentAdvancedEvent  EventType = "enrollment.advanced"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"
	EnrollmentFailedEvent    EventType = "enrollment.failed"

	// Delivery and engagement events.
	MessageSentEvent    EventType = "message.sent"
	CallbackRoutedEvent EventType = "callback.routed"

	// Side effects of exit paths.
	TrackingRecordedEvent EventType = "tracking.recorded"
	ProfileUpdatedEvent   EventType = "customer.profile.updated"

	// Engine housekeeping.
	SweepCompletedEvent EventType = "sweep.completed"
)

// BaseEvent carries the fields every engine event shares.
type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JourneyID string         `json:"journey_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent builds the shared header for an engine event.
func NewBaseEvent(eventType EventType, journeyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JourneyID: journeyID,
	}
}

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	TriggerKind  string `json:"trigger_kind"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentAdvanced struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	FromNodeID   string `json:"from_node_id"`
	ToNodeID     string `json:"to_node_id"`
}

func (e EnrollmentAdvanced) GetType() EventType {
	return EnrollmentAdvancedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	GoalNodeID   string `json:"goal_node_id"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	NodeID       string `json:"node_id"`
	Reason       string `json:"reason,omitempty"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	NodeID       string `json:"node_id"`
	Error        string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

type MessageSent struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	NodeID       string `json:"node_id"`
	MessageID    string `json:"message_id"`
	TemplateName string `json:"template_name,omitempty"`
}

func (e MessageSent) GetType() EventType {
	return MessageSentEvent
}

type CallbackRouted struct {
	BaseEvent

	EnrollmentID string              `json:"enrollment_id"`
	NodeID       string              `json:"node_id"`
	MessageID    string              `json:"message_id"`
	Kind         models.CallbackKind `json:"kind"`
	ButtonID     string              `json:"button_id,omitempty"`
	ActionTaken  string              `json:"action_taken"`
}

func (e CallbackRouted) GetType() EventType {
	return CallbackRoutedEvent
}

// TrackingRecorded is the analytics event emitted when an exit path with a
// tracking config fires.
type TrackingRecorded struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	CustomerID   string `json:"customer_id"`
	NodeID       string `json:"node_id"`
	EventName    string `json:"event_name"`
}

func (e TrackingRecorded) GetType() EventType {
	return TrackingRecordedEvent
}

type ProfileUpdated struct {
	BaseEvent

	CustomerID string `json:"customer_id"`
	Property   string `json:"property"`
	Operation  string `json:"operation"`
}

func (e ProfileUpdated) GetType() EventType {
	return ProfileUpdatedEvent
}

type SweepCompleted struct {
	BaseEvent

	Enrolled  int           `json:"enrolled"`
	Advanced  int           `json:"advanced"`
	Resumed   int           `json:"resumed"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
	SweepTime time.Time     `json:"sweep_time"`
}

func (e SweepCompleted) GetType() EventType {
	return SweepCompletedEvent
}

// ErrInvalidCustomerEvent is returned when an inbound customer event misses
// required fields.
var ErrInvalidCustomerEvent = errors.New("customer event requires name and customer_id")

// CustomerEvent is an inbound domain event ("order_placed", "signup") that
// event-kind triggers enroll on. It arrives from outside the engine.
type CustomerEvent struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	CustomerID string         `json:"customer_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Validate checks the event carries enough to route it.
func (e *CustomerEvent) Validate() error {
	if e.Name == "" || e.CustomerID == "" {
		return ErrInvalidCustomerEvent
	}

	return nil
}
