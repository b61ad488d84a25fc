// Package models defines the core domain models for journey automation.
package models

import (
	"fmt"
	"time"
)

// JourneyStatus represents the lifecycle state of a journey.
type JourneyStatus string

const (
	JourneyStatusDraft  JourneyStatus = "draft"  // Editable, never swept
	JourneyStatusActive JourneyStatus = "active" // Enrolling and walking
	JourneyStatusPaused JourneyStatus = "paused" // Retained, not swept
)

// Journey is a directed graph of nodes describing an automated multi-step
// customer interaction. Definitions are read-only while enrollments walk
// them; all mutation happens through the definition save path.
type Journey struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Status      JourneyStatus   `json:"status"      validate:"required"`
	Nodes       []*JourneyNode  `json:"nodes"`
	Edges       []*JourneyEdge  `json:"edges"`
	Settings    JourneySettings `json:"settings"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// JourneySettings carries enrollment policy for a journey.
type JourneySettings struct {
	AllowReentry        bool          `json:"allow_reentry"`
	ReentryCooldownDays int           `json:"reentry_cooldown_days"`
	TestMode            bool          `json:"test_mode"`
	TestCustomerIDs     []string      `json:"test_customer_ids,omitempty"`
	TestPhoneNumbers    []string      `json:"test_phone_numbers,omitempty"`
	Entry               EntrySettings `json:"entry"`
}

// EntrySettings names the audience for calendar and manual entry.
type EntrySettings struct {
	SegmentID string `json:"segment_id,omitempty"`
}

// JourneyEdge connects two nodes. Branch labels the edge for condition
// outcomes ("match", "else"), A/B variants (the variant id) and exit-path
// branch aliases; an empty branch marks the node's default outgoing edge.
type JourneyEdge struct {
	ID     string `json:"id"`
	From   string `json:"from"   validate:"required"`
	To     string `json:"to"     validate:"required"`
	Branch string `json:"branch,omitempty"`
}

// ReentryCooldown returns the configured cooldown as a duration.
func (s JourneySettings) ReentryCooldown() time.Duration {
	return time.Duration(s.ReentryCooldownDays) * 24 * time.Hour
}

// TriggerNode returns the journey's single trigger node, or an error when
// the graph carries none or more than one.
func (j *Journey) TriggerNode() (*JourneyNode, error) {
	var trigger *JourneyNode

	for _, node := range j.Nodes {
		if node.Type != NodeTypeTrigger {
			continue
		}

		if trigger != nil {
			return nil, fmt.Errorf("journey %s: %w", j.ID, ErrMultipleTriggerNodes)
		}

		trigger = node
	}

	if trigger == nil {
		return nil, fmt.Errorf("journey %s: %w", j.ID, ErrNoTriggerNode)
	}

	return trigger, nil
}

// NodeByID resolves a node in the graph.
func (j *Journey) NodeByID(id string) (*JourneyNode, bool) {
	for _, node := range j.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// EdgesFrom returns all edges leaving a node, in definition order.
func (j *Journey) EdgesFrom(nodeID string) []*JourneyEdge {
	var out []*JourneyEdge

	for _, edge := range j.Edges {
		if edge.From == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

// EdgeFrom returns the node's default outgoing edge: the edge with an empty
// branch label, or the first outgoing edge when none is unlabeled.
func (j *Journey) EdgeFrom(nodeID string) (*JourneyEdge, bool) {
	edges := j.EdgesFrom(nodeID)
	if len(edges) == 0 {
		return nil, false
	}

	for _, edge := range edges {
		if edge.Branch == "" {
			return edge, true
		}
	}

	return edges[0], true
}

// EdgeByBranch returns the outgoing edge carrying the given branch label.
func (j *Journey) EdgeByBranch(nodeID, branch string) (*JourneyEdge, bool) {
	for _, edge := range j.EdgesFrom(nodeID) {
		if edge.Branch == branch {
			return edge, true
		}
	}

	return nil, false
}

// Validate checks the graph invariants: exactly one trigger node, node
// references in edges resolve, every non-trigger node is reachable from the
// trigger, and each node's typed config matches its declared type.
func (j *Journey) Validate() error {
	trigger, err := j.TriggerNode()
	if err != nil {
		return err
	}

	ids := make(map[string]bool, len(j.Nodes))

	for _, node := range j.Nodes {
		if node.ID == "" {
			return fmt.Errorf("journey %s: %w", j.ID, ErrInvalidNode)
		}

		if ids[node.ID] {
			return fmt.Errorf("journey %s: node %s: %w", j.ID, node.ID, ErrDuplicateNodeID)
		}

		ids[node.ID] = true

		if err := node.Validate(); err != nil {
			return fmt.Errorf("journey %s: %w", j.ID, err)
		}
	}

	for _, edge := range j.Edges {
		if !ids[edge.From] || !ids[edge.To] {
			return fmt.Errorf("journey %s: edge %s: %w", j.ID, edge.ID, ErrDanglingEdge)
		}
	}

	reachable := map[string]bool{trigger.ID: true}
	frontier := []string{trigger.ID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, edge := range j.EdgesFrom(current) {
			if !reachable[edge.To] {
				reachable[edge.To] = true
				frontier = append(frontier, edge.To)
			}
		}
	}

	for _, node := range j.Nodes {
		if !reachable[node.ID] {
			return fmt.Errorf("journey %s: node %s: %w", j.ID, node.ID, ErrUnreachableNode)
		}
	}

	return nil
}

// NormalizeWeights rescales every A/B node's variant weights to sum to 100.
// Runs at save time only; the walker trusts stored weights.
func (j *Journey) NormalizeWeights() {
	for _, node := range j.Nodes {
		if node.Type != NodeTypeABTest || node.ABTest == nil {
			continue
		}

		node.ABTest.normalize()
	}
}
