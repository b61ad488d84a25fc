package journey

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/itinera/pkg/dedup"
	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/events"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/lock"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence/file"
)

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			out = append(out, event)
		}
	}

	return out
}

// stubGateway records sends and returns scripted errors.
type stubGateway struct {
	mu   sync.Mutex
	sent []gateway.OutboundMessage
	err  error
}

func (g *stubGateway) SendMessage(_ context.Context, message gateway.OutboundMessage) (*gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}

	g.sent = append(g.sent, message)

	return &gateway.SendResult{MessageID: fmt.Sprintf("wamid-%03d", len(g.sent))}, nil
}

func (g *stubGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sent)
}

// fixture wires the full engine onto file persistence and in-memory
// stubs, the way the sweeper binary wires it onto real infrastructure.
type fixture struct {
	persist   *file.Persistence
	publisher *capturingPublisher
	gateway   *stubGateway
	locker    *lock.MemoryLocker
	resolver  *Resolver
	enroller  *Enroller
	walker    *Walker
	router    *Router
	driver    *Driver
	calendar  *Calendar
	listener  *Listener
	simulator *Simulator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.Discard()
	persist := file.NewPersistence(t.TempDir())
	publisher := &capturingPublisher{}
	gw := &stubGateway{}
	locker := lock.NewMemoryLocker()

	tracer := noop.NewTracerProvider().Tracer("test")
	resolver := NewResolver(logger, persist)
	enroller := NewEnroller(logger, persist, publisher, nil)
	walker := NewWalker(logger, persist, gw, publisher)
	router := NewRouter(logger, persist, dedup.NewMemoryDeduper(), publisher, tracer)
	driver := NewDriver(logger, persist, resolver, enroller, walker, locker, publisher, tracer, 2)

	return &fixture{
		persist:   persist,
		publisher: publisher,
		gateway:   gw,
		locker:    locker,
		resolver:  resolver,
		enroller:  enroller,
		walker:    walker,
		router:    router,
		driver:    driver,
		calendar:  NewCalendar(logger, persist, resolver, enroller, walker),
		listener:  NewListener(logger, persist, enroller, walker),
		simulator: NewSimulator(logger, persist),
	}
}

func (f *fixture) saveJourney(t *testing.T, journey *models.Journey) {
	t.Helper()
	require.NoError(t, f.persist.Journeys().Save(t.Context(), journey))
}

func (f *fixture) saveCustomer(t *testing.T, customer *models.Customer) {
	t.Helper()
	require.NoError(t, f.persist.Customers().Save(t.Context(), customer))
}

func (f *fixture) saveSegment(t *testing.T, segment *models.Segment) {
	t.Helper()
	require.NoError(t, f.persist.Segments().Save(t.Context(), segment))
}

func (f *fixture) reload(t *testing.T, enrollmentID string) *models.Enrollment {
	t.Helper()

	enrollment, err := f.persist.Enrollments().ByID(t.Context(), enrollmentID)
	require.NoError(t, err)

	return enrollment
}

func (f *fixture) update(t *testing.T, enrollment *models.Enrollment) {
	t.Helper()
	require.NoError(t, f.persist.Enrollments().Update(t.Context(), enrollment))
}

func (f *fixture) activityKinds(t *testing.T, enrollmentID string) []models.ActivityKind {
	t.Helper()

	entries, err := f.persist.Activities().ByEnrollment(t.Context(), enrollmentID)
	require.NoError(t, err)

	kinds := make([]models.ActivityKind, 0, len(entries))
	for _, entry := range entries {
		kinds = append(kinds, entry.Kind)
	}

	return kinds
}

// enrollAndPark saves the standard fixtures, enrolls the VIP customer and
// walks until the welcome send parks the enrollment. Most router tests
// start from this state.
func (f *fixture) enrollAndPark(t *testing.T, journey *models.Journey) *models.Enrollment {
	t.Helper()

	f.saveJourney(t, journey)
	f.saveSegment(t, vipSegment())
	f.saveCustomer(t, vipCustomer())

	enrollment, skip, err := f.enroller.TryEnroll(t.Context(), journey, vipCustomer().ID)
	require.NoError(t, err)
	require.Equal(t, SkipNone, skip)

	_, err = f.walker.Advance(t.Context(), journey, enrollment)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusWaiting, enrollment.Status)

	return enrollment
}

// vipJourney is the canonical graph: a segment trigger, a VIP check, a
// welcome send whose read exit path branches to the goal, and an exit for
// everyone the check filters out.
func vipJourney() *models.Journey {
	return journeyWithReadPath(&models.ExitPath{
		Enabled: true,
		Action:  models.ExitAction{Type: models.ExitActionBranch, BranchID: "node_goal"},
	})
}

// journeyWithReadPath builds the VIP graph with the welcome send's read
// exit path swapped for the given one.
func journeyWithReadPath(read *models.ExitPath) *models.Journey {
	return &models.Journey{
		ID:     "journey-vip",
		Name:   "VIP welcome",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindSegmentJoined, SegmentID: "segment-vip"},
			},
			{
				ID:   "node_check",
				Type: models.NodeTypeCondition,
				Condition: &models.ConditionConfig{
					Groups: []models.ConditionGroup{{
						Operator:   models.GroupOperatorAnd,
						Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
					}},
				},
			},
			{
				ID:   "node_send",
				Type: models.NodeTypeAction,
				Action: &models.ActionConfig{
					Kind: models.ActionKindSendMessage,
					Template: models.MessageTemplate{
						Name: "welcome_vip",
						Body: "Welcome to the VIP club!",
						Buttons: []models.MessageButton{
							{ID: "btn_offer", Title: "Show me the offer"},
						},
					},
					ExitPaths: models.ExitPathSet{Read: read},
				},
			},
			{ID: "node_goal", Type: models.NodeTypeGoal},
			{ID: "node_exit", Type: models.NodeTypeExit},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_check"},
			{ID: "e2", From: "node_check", To: "node_send", Branch: "match"},
			{ID: "e3", From: "node_check", To: "node_exit", Branch: "else"},
			{ID: "e4", From: "node_send", To: "node_goal"},
		},
	}
}

// delayJourney parks enrollments on a 30 minute timer before the goal.
func delayJourney() *models.Journey {
	return &models.Journey{
		ID:     "journey-delay",
		Name:   "Delayed nudge",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "node_trigger",
				Type:    models.NodeTypeTrigger,
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindSegmentJoined, SegmentID: "segment-vip"},
			},
			{
				ID:    "node_wait",
				Type:  models.NodeTypeDelay,
				Delay: &models.DelayConfig{Duration: 30, Unit: models.DelayUnitMinutes},
			},
			{ID: "node_goal", Type: models.NodeTypeGoal},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "node_trigger", To: "node_wait"},
			{ID: "e2", From: "node_wait", To: "node_goal"},
		},
	}
}

func vipSegment() *models.Segment {
	return &models.Segment{
		ID:   "segment-vip",
		Name: "VIP customers",
		Groups: []models.ConditionGroup{{
			Operator:   models.GroupOperatorAnd,
			Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
		}},
	}
}

func vipCustomer() *models.Customer {
	return &models.Customer{
		ID:         "customer-vip",
		Phone:      "+5511999990001",
		Name:       "Ana",
		Attributes: map[string]any{"vip": true},
	}
}

func regularCustomer() *models.Customer {
	return &models.Customer{
		ID:         "customer-reg",
		Phone:      "+5511999990002",
		Name:       "Bruno",
		Attributes: map[string]any{"vip": false},
	}
}
