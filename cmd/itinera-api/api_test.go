package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/itinera/pkg/cmd"
	"github.com/dukex/itinera/pkg/gateway/whatsapp"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence/file"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := log.Discard()

	eventBus := cmd.NewEventBus("gochannel", "itinera-api-test", nil, logger)
	t.Cleanup(func() { _ = eventBus.Close() })

	api := NewAPI(
		logger,
		file.NewPersistence(t.TempDir()),
		eventBus,
		cmd.NewGateway(logger, whatsapp.Config{}),
		cmd.NewLocker(""),
		cmd.NewDeduper(""),
		noop.NewTracerProvider().Tracer("test"),
		2,
		nil,
	)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Itinera API", string(body))
}

func TestAPI_Liveness(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestAPI_CORSHeaders(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/journeys", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_JourneyRoundTrip(t *testing.T) {
	app := setupTestApp(t)

	document := `{
		"name": "Round trip",
		"nodes": [
			{"id": "node_trigger", "type": "trigger", "trigger": {"kind": "manual"}},
			{"id": "node_goal", "type": "goal"}
		],
		"edges": [
			{"id": "e1", "from": "node_trigger", "to": "node_goal"}
		]
	}`

	req := httptest.NewRequest(http.MethodPost, "/journeys/", strings.NewReader(document))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var imported models.Journey

	err = json.NewDecoder(resp.Body).Decode(&imported)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusDraft, imported.Status)

	req = httptest.NewRequest(http.MethodGet, "/journeys/", nil)
	req.Header.Set("Accept", "application/json")
	listResp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = listResp.Body.Close() }()

	assert.Equal(t, http.StatusOK, listResp.StatusCode)

	var listing struct {
		Journeys []models.Journey `json:"journeys"`
		Count    int              `json:"count"`
	}

	err = json.NewDecoder(listResp.Body).Decode(&listing)
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Count)
	require.Len(t, listing.Journeys, 1)
	assert.Equal(t, "Round trip", listing.Journeys[0].Name)
}
