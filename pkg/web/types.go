// Package web provides HTTP request and response types for the journey API.
package web

import "github.com/dukex/itinera/pkg/models"

// ChangeStatusRequest asks for a journey lifecycle transition.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active paused"`
}

// SimulateRequest names the customer a dry run walks the journey for.
type SimulateRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// EnrollRequest enters one customer into a journey manually.
type EnrollRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// StatusCallbackBatch carries gateway delivery-status callbacks.
type StatusCallbackBatch struct {
	Statuses []models.MessageStatus `json:"statuses" validate:"required,min=1"`
}

// ReplyCallbackBatch carries gateway interactive-reply callbacks.
type ReplyCallbackBatch struct {
	Replies []models.InteractiveReply `json:"replies" validate:"required,min=1"`
}
