package journey

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/segment"
)

// SimulationStep records one node visit of a dry run.
type SimulationStep struct {
	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
	Outcome  string          `json:"outcome"`
	Detail   map[string]any  `json:"detail,omitempty"`
}

// Simulation is the trace of a dry run through a journey graph for one
// customer. Nothing a simulation does is persisted or sent.
type Simulation struct {
	JourneyID  string                  `json:"journey_id"`
	CustomerID string                  `json:"customer_id"`
	Steps      []SimulationStep        `json:"steps"`
	Result     models.EnrollmentStatus `json:"result"`
}

// Simulator walks a journey graph for a customer without side effects.
// Conditions evaluate against the customer's real profile, variant
// allocation is seeded by the customer so repeated runs agree, delays are
// noted and skipped, and the walk stops where a real enrollment would
// park for a send.
type Simulator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
}

func NewSimulator(logger *slog.Logger, persist persistence.Persistence) *Simulator {
	return &Simulator{
		logger:      logger.With("module", "simulator"),
		persistence: persist,
	}
}

// Simulate dry-runs the journey for the customer and returns the trace.
func (s *Simulator) Simulate(ctx context.Context, journey *models.Journey, customerID string) (*Simulation, error) {
	if err := journey.Validate(); err != nil {
		return nil, fmt.Errorf("journey %s is not walkable: %w", journey.ID, err)
	}

	customer, err := s.persistence.Customers().ByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}

	trigger, err := journey.TriggerNode()
	if err != nil {
		return nil, err
	}

	sim := &Simulation{
		JourneyID:  journey.ID,
		CustomerID: customerID,
		Steps:      []SimulationStep{},
	}

	current := trigger

	for steps := 0; steps < maxWalkSteps; steps++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, done := s.visit(ctx, journey, customer, current, sim)
		if done {
			s.logger.DebugContext(ctx, "Simulation finished",
				"journey_id", journey.ID,
				"customer_id", customerID,
				"steps", len(sim.Steps),
				"result", string(sim.Result))

			return sim, nil
		}

		node, ok := journey.NodeByID(next)
		if !ok {
			s.failSim(sim, current, fmt.Sprintf("edge points to missing node %s", next))

			return sim, nil
		}

		current = node
	}

	s.failSim(sim, current, "walk limit exceeded, graph likely cycles")

	return sim, nil
}

// visit traces one node and returns the next node id, or done when the
// walk reached a terminal outcome.
func (s *Simulator) visit(ctx context.Context, journey *models.Journey, customer *models.Customer, node *models.JourneyNode, sim *Simulation) (string, bool) {
	switch node.Type {
	case models.NodeTypeTrigger:
		return s.followDefault(journey, node, sim, "entered", nil)
	case models.NodeTypeAction:
		return s.visitAction(node, sim)
	case models.NodeTypeCondition:
		return s.visitCondition(ctx, journey, customer, node, sim)
	case models.NodeTypeDelay:
		return s.visitDelay(journey, node, sim)
	case models.NodeTypeABTest:
		return s.visitABTest(journey, customer, node, sim)
	case models.NodeTypeGoal:
		sim.Steps = append(sim.Steps, SimulationStep{NodeID: node.ID, NodeType: node.Type, Outcome: "goal reached"})
		sim.Result = models.EnrollmentStatusCompleted

		return "", true
	case models.NodeTypeExit:
		sim.Steps = append(sim.Steps, SimulationStep{NodeID: node.ID, NodeType: node.Type, Outcome: "exited"})
		sim.Result = models.EnrollmentStatusExited

		return "", true
	default:
		s.failSim(sim, node, fmt.Sprintf("unknown node type %q", node.Type))

		return "", true
	}
}

// visitAction stops the walk where the engine would send and park. The
// trace records the template and which exit paths could route onward.
func (s *Simulator) visitAction(node *models.JourneyNode, sim *Simulation) (string, bool) {
	if node.Action == nil {
		s.failSim(sim, node, "action node without action config")

		return "", true
	}

	detail := map[string]any{
		"template": node.Action.Template.Name,
	}

	if kinds := node.Action.ExitPaths.EnabledKinds(); len(kinds) > 0 {
		detail["exit_paths"] = kinds
	}

	sim.Steps = append(sim.Steps, SimulationStep{
		NodeID:   node.ID,
		NodeType: node.Type,
		Outcome:  "would send message and wait for callbacks",
		Detail:   detail,
	})
	sim.Result = models.EnrollmentStatusWaiting

	return "", true
}

func (s *Simulator) visitCondition(ctx context.Context, journey *models.Journey, customer *models.Customer, node *models.JourneyNode, sim *Simulation) (string, bool) {
	if node.Condition == nil {
		s.failSim(sim, node, "condition node without condition config")

		return "", true
	}

	groups := node.Condition.Groups

	if node.Condition.SegmentID != "" {
		seg, err := s.persistence.Segments().ByID(ctx, node.Condition.SegmentID)
		if err != nil {
			s.failSim(sim, node, fmt.Sprintf("segment %s: %v", node.Condition.SegmentID, err))

			return "", true
		}

		groups = seg.Groups
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
		s.failSim(sim, node, fmt.Sprintf("no edge for %q outcome", branch))

		return "", true
	}

	sim.Steps = append(sim.Steps, SimulationStep{
		NodeID:   node.ID,
		NodeType: node.Type,
		Outcome:  "evaluated",
		Detail:   map[string]any{"matched": matched, "to": edge.To},
	})

	return edge.To, false
}

func (s *Simulator) visitDelay(journey *models.Journey, node *models.JourneyNode, sim *Simulation) (string, bool) {
	if node.Delay == nil {
		s.failSim(sim, node, "delay node without delay config")

		return "", true
	}

	wait, err := node.Delay.Wait()
	if err != nil {
		s.failSim(sim, node, err.Error())

		return "", true
	}

	return s.followDefault(journey, node, sim, "would wait then continue", map[string]any{
		"wait": wait.String(),
	})
}

func (s *Simulator) visitABTest(journey *models.Journey, customer *models.Customer, node *models.JourneyNode, sim *Simulation) (string, bool) {
	variantID, err := AllocateVariant(customer.ID, node.ID, node.ABTest)
	if err != nil {
		s.failSim(sim, node, err.Error())

		return "", true
	}

	edge, ok := journey.EdgeByBranch(node.ID, variantID)
	if !ok {
		s.failSim(sim, node, fmt.Sprintf("no edge for variant %q", variantID))

		return "", true
	}

	sim.Steps = append(sim.Steps, SimulationStep{
		NodeID:   node.ID,
		NodeType: node.Type,
		Outcome:  "variant allocated",
		Detail:   map[string]any{"variant": variantID, "to": edge.To},
	})

	return edge.To, false
}

func (s *Simulator) followDefault(journey *models.Journey, node *models.JourneyNode, sim *Simulation, outcome string, detail map[string]any) (string, bool) {
	edge, ok := journey.EdgeFrom(node.ID)
	if !ok {
		s.failSim(sim, node, "no outgoing edge")

		return "", true
	}

	if detail == nil {
		detail = map[string]any{}
	}

	detail["to"] = edge.To

	sim.Steps = append(sim.Steps, SimulationStep{
		NodeID:   node.ID,
		NodeType: node.Type,
		Outcome:  outcome,
		Detail:   detail,
	})

	return edge.To, false
}

func (s *Simulator) failSim(sim *Simulation, node *models.JourneyNode, reason string) {
	sim.Steps = append(sim.Steps, SimulationStep{
		NodeID:   node.ID,
		NodeType: node.Type,
		Outcome:  "failed",
		Detail:   map[string]any{"reason": reason},
	})
	sim.Result = models.EnrollmentStatusFailed
}
