package models

import "time"

// Customer is the profile record the evaluator reads and exit paths mutate.
// Attributes hold free-form profile properties keyed by name.
type Customer struct {
	ID         string         `json:"id"`
	Phone      string         `json:"phone"`
	Email      string         `json:"email,omitempty"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Attribute resolves a profile field by name, checking the built-in fields
// before free-form attributes. The boolean reports presence.
func (c *Customer) Attribute(field string) (any, bool) {
	switch field {
	case "id":
		return c.ID, true
	case "phone":
		return c.Phone, true
	case "email":
		if c.Email == "" {
			return nil, false
		}

		return c.Email, true
	case "name":
		if c.Name == "" {
			return nil, false
		}

		return c.Name, true
	}

	if c.Attributes == nil {
		return nil, false
	}

	value, ok := c.Attributes[field]

	return value, ok
}

// CheckoutStatus represents the lifecycle state of a checkout.
type CheckoutStatus string

const (
	CheckoutStatusOpen      CheckoutStatus = "open"
	CheckoutStatusCompleted CheckoutStatus = "completed"
	CheckoutStatusAbandoned CheckoutStatus = "abandoned"
)

// Checkout is a cart snapshot used by abandoned-cart triggers. Only open
// checkouts old enough per the trigger threshold produce candidates.
type Checkout struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customer_id"`
	Status     CheckoutStatus `json:"status"`
	Total      float64        `json:"total"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
