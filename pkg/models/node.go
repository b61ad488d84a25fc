package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NodeType discriminates the journey node union. Every switch over this
// type must handle all members and reject unknown values.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"   // Entry point, exactly one per journey
	NodeTypeAction    NodeType = "action"    // Sends a message through the gateway
	NodeTypeCondition NodeType = "condition" // Branches on customer/segment state
	NodeTypeDelay     NodeType = "delay"     // Parks the enrollment on a timer
	NodeTypeGoal      NodeType = "goal"      // Terminal, enrollment completed
	NodeTypeExit      NodeType = "exit"      // Terminal, enrollment exited
	NodeTypeABTest    NodeType = "abtest"    // Deterministic weighted split
)

// JourneyNode is a tagged union: exactly one config pointer is populated and
// it must match Type.
type JourneyNode struct {
	ID        string           `json:"id"   validate:"required"`
	Type      NodeType         `json:"type" validate:"required"`
	Name      string           `json:"name"`
	Trigger   *TriggerConfig   `json:"trigger,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	ABTest    *ABTestConfig    `json:"abtest,omitempty"`
}

// TriggerKind discriminates how a journey acquires candidates.
type TriggerKind string

const (
	TriggerKindSegmentJoined TriggerKind = "segment_joined" // Sweep: current segment members
	TriggerKindAbandonedCart TriggerKind = "abandoned_cart" // Sweep: stale open checkouts
	TriggerKindEvent         TriggerKind = "event"          // Event listener, never swept
	TriggerKindDateTime      TriggerKind = "date_time"      // Calendar, never swept
	TriggerKindManual        TriggerKind = "manual"         // Explicit API call only
)

// TriggerConfig carries the per-kind entry parameters.
type TriggerConfig struct {
	Kind                TriggerKind `json:"kind" validate:"required"`
	SegmentID           string      `json:"segment_id,omitempty"`
	AbandonedAfterHours int         `json:"abandoned_after_hours,omitempty"`
	EventName           string      `json:"event_name,omitempty"`
	FireAt              *time.Time  `json:"fire_at,omitempty"`
	Cron                string      `json:"cron,omitempty"`
}

// ActionKind discriminates action nodes. Messaging is the only kind the
// engine executes today.
type ActionKind string

const (
	ActionKindSendMessage ActionKind = "send_message"
)

// ActionConfig describes a message send and how callbacks route onward.
// Templates arrive already resolved; the engine never renders content.
type ActionConfig struct {
	Kind      ActionKind      `json:"kind" validate:"required"`
	Template  MessageTemplate `json:"template"`
	ExitPaths ExitPathSet     `json:"exit_paths"`
}

// MessageTemplate is the pre-rendered message payload handed to the gateway.
type MessageTemplate struct {
	Name     string          `json:"name"`
	Language string          `json:"language,omitempty"`
	Body     string          `json:"body"`
	Buttons  []MessageButton `json:"buttons,omitempty"`
}

// MessageButton is one interactive reply option on an outbound message.
type MessageButton struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ConditionConfig evaluates either a referenced segment or inline groups.
// When SegmentID is set it wins over Groups.
type ConditionConfig struct {
	SegmentID string           `json:"segment_id,omitempty"`
	Groups    []ConditionGroup `json:"groups,omitempty"`
}

// DelayUnit scales a delay node's duration.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// DelayConfig parks an enrollment for a fixed period.
type DelayConfig struct {
	Duration int       `json:"duration" validate:"required,gt=0"`
	Unit     DelayUnit `json:"unit"     validate:"required"`
}

// Wait converts the configured delay into a duration. Unknown units are a
// configuration error.
func (d *DelayConfig) Wait() (time.Duration, error) {
	switch d.Unit {
	case DelayUnitMinutes:
		return time.Duration(d.Duration) * time.Minute, nil
	case DelayUnitHours:
		return time.Duration(d.Duration) * time.Hour, nil
	case DelayUnitDays:
		return time.Duration(d.Duration) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("delay unit %q: %w", d.Unit, ErrInvalidNode)
	}
}

// Variant is one branch of an A/B test node.
type Variant struct {
	ID     string `json:"id"     validate:"required"`
	Weight int    `json:"weight" validate:"gte=0"`
}

// ABTestConfig holds 2-4 weighted variants. Weights sum to 100 after save.
type ABTestConfig struct {
	Variants []Variant `json:"variants" validate:"min=2,max=4"`
}

// TotalWeight sums the stored variant weights.
func (a *ABTestConfig) TotalWeight() int {
	total := 0
	for _, v := range a.Variants {
		total += v.Weight
	}

	return total
}

// normalize rescales weights to sum to 100, assigning the rounding
// remainder to the first variant. Zero totals split evenly.
func (a *ABTestConfig) normalize() {
	if len(a.Variants) == 0 {
		return
	}

	total := a.TotalWeight()
	if total == 0 {
		share := 100 / len(a.Variants)
		for i := range a.Variants {
			a.Variants[i].Weight = share
		}

		a.Variants[0].Weight += 100 - share*len(a.Variants)

		return
	}

	if total == 100 {
		return
	}

	scaled := 0
	for i := range a.Variants {
		a.Variants[i].Weight = a.Variants[i].Weight * 100 / total
		scaled += a.Variants[i].Weight
	}

	a.Variants[0].Weight += 100 - scaled
}

// Validate checks that the node's typed config matches its declared type
// and that the config itself is usable.
func (n *JourneyNode) Validate() error {
	switch n.Type {
	case NodeTypeTrigger:
		if n.Trigger == nil {
			return fmt.Errorf("node %s: trigger config missing: %w", n.ID, ErrInvalidNode)
		}

		return n.Trigger.validate(n.ID)
	case NodeTypeAction:
		if n.Action == nil {
			return fmt.Errorf("node %s: action config missing: %w", n.ID, ErrInvalidNode)
		}

		if n.Action.Kind != ActionKindSendMessage {
			return fmt.Errorf("node %s: action kind %q: %w", n.ID, n.Action.Kind, ErrInvalidNode)
		}

		return nil
	case NodeTypeCondition:
		if n.Condition == nil {
			return fmt.Errorf("node %s: condition config missing: %w", n.ID, ErrInvalidNode)
		}

		if n.Condition.SegmentID == "" && len(n.Condition.Groups) == 0 {
			return fmt.Errorf("node %s: empty condition: %w", n.ID, ErrInvalidNode)
		}

		return nil
	case NodeTypeDelay:
		if n.Delay == nil {
			return fmt.Errorf("node %s: delay config missing: %w", n.ID, ErrInvalidNode)
		}

		if _, err := n.Delay.Wait(); err != nil {
			return err
		}

		if n.Delay.Duration <= 0 {
			return fmt.Errorf("node %s: non-positive delay: %w", n.ID, ErrInvalidNode)
		}

		return nil
	case NodeTypeABTest:
		if n.ABTest == nil {
			return fmt.Errorf("node %s: abtest config missing: %w", n.ID, ErrInvalidNode)
		}

		if len(n.ABTest.Variants) < 2 || len(n.ABTest.Variants) > 4 {
			return fmt.Errorf("node %s: %d variants: %w", n.ID, len(n.ABTest.Variants), ErrVariantConfig)
		}

		return nil
	case NodeTypeGoal, NodeTypeExit:
		return nil
	default:
		return fmt.Errorf("node %s: unknown type %q: %w", n.ID, n.Type, ErrInvalidNode)
	}
}

func (t *TriggerConfig) validate(nodeID string) error {
	switch t.Kind {
	case TriggerKindSegmentJoined:
		if t.SegmentID == "" {
			return fmt.Errorf("node %s: segment trigger without segment: %w", nodeID, ErrInvalidNode)
		}
	case TriggerKindAbandonedCart:
		if t.AbandonedAfterHours <= 0 {
			return fmt.Errorf("node %s: abandoned-cart threshold missing: %w", nodeID, ErrInvalidNode)
		}
	case TriggerKindEvent:
		if t.EventName == "" {
			return fmt.Errorf("node %s: event trigger without event name: %w", nodeID, ErrInvalidNode)
		}
	case TriggerKindDateTime:
		if t.FireAt == nil && t.Cron == "" {
			return fmt.Errorf("node %s: date_time trigger without schedule: %w", nodeID, ErrInvalidNode)
		}

		if t.Cron != "" {
			parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
			if _, err := parser.Parse(t.Cron); err != nil {
				return fmt.Errorf("node %s: cron %q: %w", nodeID, t.Cron, err)
			}
		}
	case TriggerKindManual:
	default:
		return fmt.Errorf("node %s: unknown trigger kind %q: %w", nodeID, t.Kind, ErrInvalidNode)
	}

	return nil
}
