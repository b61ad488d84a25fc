package models

import "time"

// MessageStatus is one delivery-status record from the messaging gateway.
// Batches of these arrive out of phase with the sweep.
type MessageStatus struct {
	MessageID   string       `json:"message_id" validate:"required"`
	Status      string       `json:"status"     validate:"required"`
	Timestamp   time.Time    `json:"timestamp"`
	RecipientID string       `json:"recipient_id,omitempty"`
	Error       *StatusError `json:"error,omitempty"`
}

// StatusError carries the gateway's failure detail on a failed status.
type StatusError struct {
	Code  int    `json:"code,omitempty"`
	Title string `json:"title,omitempty"`
}

// InteractiveReply is one button-tap record from the messaging gateway.
// MessageID references the original outbound message the button belongs to.
type InteractiveReply struct {
	MessageID  string    `json:"message_id" validate:"required"`
	ButtonID   string    `json:"button_id"  validate:"required"`
	ButtonText string    `json:"button_text,omitempty"`
	FromPhone  string    `json:"from_phone,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
