package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/itinera/pkg/dedup"
	"github.com/dukex/itinera/pkg/eventbus"
	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/journey"
	"github.com/dukex/itinera/pkg/lock"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/persistence/file"
	"github.com/dukex/itinera/pkg/services"
	"github.com/dukex/itinera/pkg/web"
)

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error {
	return nil
}

type okGateway struct{}

func (okGateway) SendMessage(_ context.Context, _ gateway.OutboundMessage) (*gateway.SendResult, error) {
	return &gateway.SendResult{MessageID: "wamid-web-test"}, nil
}

type testEnv struct {
	app     *fiber.App
	persist persistence.Persistence
	locker  *lock.MemoryLocker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.Discard()
	persist := file.NewPersistence(t.TempDir())
	publisher := noopPublisher{}
	locker := lock.NewMemoryLocker()

	tracer := noop.NewTracerProvider().Tracer("test")
	resolver := journey.NewResolver(logger, persist)
	enroller := journey.NewEnroller(logger, persist, publisher, nil)
	walker := journey.NewWalker(logger, persist, okGateway{}, publisher)
	router := journey.NewRouter(logger, persist, dedup.NewMemoryDeduper(), publisher, tracer)
	driver := journey.NewDriver(logger, persist, resolver, enroller, walker, locker, publisher, tracer, 2)
	simulator := journey.NewSimulator(logger, persist)

	handlers := web.NewAPIHandlers(
		services.NewJourney(persist, simulator),
		services.NewEnrollment(persist, enroller, walker),
		services.NewCallback(router),
		services.NewSweep(driver),
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()

	j := app.Group("/journeys")
	j.Get("/", handlers.GetJourneys)
	j.Post("/", handlers.ImportJourney)
	j.Get("/:id", handlers.GetJourney)
	j.Put("/:id", handlers.UpdateJourney)
	j.Delete("/:id", handlers.DeleteJourney)
	j.Patch("/:id/status", handlers.ChangeJourneyStatus)
	j.Post("/:id/simulate", handlers.SimulateJourney)
	j.Get("/:id/enrollments", handlers.GetJourneyEnrollments)
	j.Post("/:id/enrollments", handlers.EnrollCustomer)

	e := app.Group("/enrollments")
	e.Get("/:id", handlers.GetEnrollment)
	e.Get("/:id/activity", handlers.GetEnrollmentActivity)

	cb := app.Group("/callbacks")
	cb.Post("/statuses", handlers.IngestStatusCallbacks)
	cb.Post("/replies", handlers.IngestReplyCallbacks)

	app.Post("/sweeps", handlers.RunSweep)
	app.Get("/health", handlers.HealthCheck)

	return &testEnv{app: app, persist: persist, locker: locker}
}

func (env *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	switch payload := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(payload)
	default:
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out T

	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", string(raw))

	return out
}

const welcomeDocument = `{
	"name": "VIP welcome",
	"nodes": [
		{"id": "node_trigger", "type": "trigger", "trigger": {"kind": "segment_joined", "segment_id": "segment-vip"}},
		{"id": "node_send", "type": "action", "action": {
			"kind": "send_message",
			"template": {"name": "welcome_vip", "body": "Welcome!"},
			"exit_paths": {"read": {"enabled": true, "action": {"type": "branch", "branch_id": "node_goal"}}}
		}},
		{"id": "node_goal", "type": "goal"}
	],
	"edges": [
		{"id": "e1", "from": "node_trigger", "to": "node_send"},
		{"id": "e2", "from": "node_send", "to": "node_goal"}
	]
}`

const manualDocument = `{
	"name": "Manual entry",
	"nodes": [
		{"id": "node_trigger", "type": "trigger", "trigger": {"kind": "manual"}},
		{"id": "node_goal", "type": "goal"}
	],
	"edges": [
		{"id": "e1", "from": "node_trigger", "to": "node_goal"}
	]
}`

func (env *testEnv) seedVIP(t *testing.T) {
	t.Helper()

	require.NoError(t, env.persist.Segments().Save(t.Context(), &models.Segment{
		ID:   "segment-vip",
		Name: "VIP customers",
		Groups: []models.ConditionGroup{{
			Operator:   models.GroupOperatorAnd,
			Conditions: []models.Condition{{Field: "vip", Operator: models.ConditionOperatorEquals, Value: true}},
		}},
	}))
	require.NoError(t, env.persist.Customers().Save(t.Context(), &models.Customer{
		ID:         "customer-vip",
		Phone:      "+5511999990001",
		Name:       "Ana",
		Attributes: map[string]any{"vip": true},
	}))
}

func (env *testEnv) importJourney(t *testing.T, document string) *models.Journey {
	t.Helper()

	resp := env.request(t, http.MethodPost, "/journeys/", document)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	imported := decodeBody[*models.Journey](t, resp)
	require.NotEmpty(t, imported.ID)

	return imported
}

func (env *testEnv) activate(t *testing.T, journeyID string) {
	t.Helper()

	resp := env.request(t, http.MethodPatch, "/journeys/"+journeyID+"/status", web.ChangeStatusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_ImportAndFetchJourney(t *testing.T) {
	env := newTestEnv(t)

	imported := env.importJourney(t, welcomeDocument)
	assert.Equal(t, models.JourneyStatusDraft, imported.Status)

	resp := env.request(t, http.MethodGet, "/journeys/"+imported.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeBody[*models.Journey](t, resp)
	assert.Equal(t, "VIP welcome", fetched.Name)

	resp = env.request(t, http.MethodGet, "/journeys/?status=draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decodeBody[map[string]json.RawMessage](t, resp)

	var count int

	require.NoError(t, json.Unmarshal(listing["count"], &count))
	assert.Equal(t, 1, count)
}

func TestAPI_ImportRejectsBadDocument(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/journeys/", `{"name": "ab"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/journeys/journey-ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_StatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.seedVIP(t)

	imported := env.importJourney(t, welcomeDocument)

	resp := env.request(t, http.MethodPatch, "/journeys/"+imported.ID+"/status", web.ChangeStatusRequest{Status: "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	activated := decodeBody[*models.Journey](t, resp)
	assert.Equal(t, models.JourneyStatusActive, activated.Status)

	// Draft is unreachable once live.
	resp = env.request(t, http.MethodPatch, "/journeys/"+imported.ID+"/status", web.ChangeStatusRequest{Status: "draft"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodPatch, "/journeys/"+imported.ID+"/status", `{"status": "archived"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_DeleteOnlyDrafts(t *testing.T) {
	env := newTestEnv(t)

	draft := env.importJourney(t, manualDocument)
	live := env.importJourney(t, manualDocument)
	env.activate(t, live.ID)

	resp := env.request(t, http.MethodDelete, "/journeys/"+live.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodDelete, "/journeys/"+draft.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/journeys/"+draft.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_ManualEnrollment(t *testing.T) {
	env := newTestEnv(t)
	env.seedVIP(t)

	imported := env.importJourney(t, manualDocument)
	env.activate(t, imported.ID)

	resp := env.request(t, http.MethodPost, "/journeys/"+imported.ID+"/enrollments", web.EnrollRequest{CustomerID: "customer-vip"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	enrollment := decodeBody[*models.Enrollment](t, resp)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)

	// Completed without re-entry blocks a second manual entry.
	resp = env.request(t, http.MethodPost, "/journeys/"+imported.ID+"/enrollments", web.EnrollRequest{CustomerID: "customer-vip"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/journeys/"+imported.ID+"/enrollments", web.EnrollRequest{CustomerID: "customer-ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/enrollments/"+enrollment.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodGet, "/enrollments/"+enrollment.ID+"/activity", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	trail := decodeBody[map[string]json.RawMessage](t, resp)

	var entries []*models.ActivityEntry

	require.NoError(t, json.Unmarshal(trail["activity"], &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ActivityEnrolled, entries[0].Kind)
}

func TestAPI_SimulatePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seedVIP(t)

	imported := env.importJourney(t, welcomeDocument)
	env.activate(t, imported.ID)

	resp := env.request(t, http.MethodPost, "/journeys/"+imported.ID+"/simulate", web.SimulateRequest{CustomerID: "customer-vip"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	simulation := decodeBody[*journey.Simulation](t, resp)
	assert.Equal(t, models.EnrollmentStatusWaiting, simulation.Result)
	assert.NotEmpty(t, simulation.Steps)

	enrollments, err := env.persist.Enrollments().ByJourney(t.Context(), imported.ID)
	require.NoError(t, err)
	assert.Empty(t, enrollments)

	resp = env.request(t, http.MethodPost, "/journeys/"+imported.ID+"/simulate", web.SimulateRequest{CustomerID: "customer-ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_SweepEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedVIP(t)

	imported := env.importJourney(t, welcomeDocument)
	env.activate(t, imported.ID)

	resp := env.request(t, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	summary := decodeBody[*journey.SweepSummary](t, resp)
	assert.Equal(t, 1, summary.EnrollmentsCreated)
	assert.Empty(t, summary.Errors)
}

func TestAPI_SweepConflictsWhileRunning(t *testing.T) {
	env := newTestEnv(t)

	unlock, acquired, err := env.locker.TryAcquire(t.Context(), "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	defer unlock(context.Background())

	resp := env.request(t, http.MethodPost, "/sweeps", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_CallbackBatches(t *testing.T) {
	env := newTestEnv(t)
	env.seedVIP(t)

	imported := env.importJourney(t, welcomeDocument)
	env.activate(t, imported.ID)

	// Sweep enrolls the VIP customer and parks it at the welcome send.
	resp := env.request(t, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.request(t, http.MethodPost, "/callbacks/statuses", web.StatusCallbackBatch{
		Statuses: []models.MessageStatus{{
			MessageID: "wamid-web-test",
			Status:    "read",
			Timestamp: time.Now().UTC(),
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	routed := decodeBody[*journey.RouteSummary](t, resp)
	assert.Equal(t, 1, routed.Routed)

	enrollments, err := env.persist.Enrollments().ByJourney(t.Context(), imported.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, "node_goal", enrollments[0].CurrentNodeID)

	resp = env.request(t, http.MethodPost, "/callbacks/replies", web.ReplyCallbackBatch{
		Replies: []models.InteractiveReply{{
			MessageID: "wamid-unknown",
			ButtonID:  "btn_offer",
			Timestamp: time.Now().UTC(),
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	skipped := decodeBody[*journey.RouteSummary](t, resp)
	assert.Equal(t, 1, skipped.Skipped)

	resp = env.request(t, http.MethodPost, "/callbacks/statuses", web.StatusCallbackBatch{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPI_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
