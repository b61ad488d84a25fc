package whatsapp_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/gateway/whatsapp"
	"github.com/dukex/itinera/pkg/log"
	"github.com/dukex/itinera/pkg/models"
)

func newTestGateway(serverURL string) *whatsapp.Gateway {
	return whatsapp.NewGateway(log.Discard(), whatsapp.Config{
		BaseURL:       serverURL,
		PhoneNumberID: "5511000",
		AccessToken:   "token-123",
	})
}

func TestSendMessage_Template(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/5511000/messages", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	result, err := g.SendMessage(t.Context(), gateway.OutboundMessage{
		To:       "+5511999990000",
		Template: models.MessageTemplate{Name: "welcome", Language: "pt_BR", Body: "Oi!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.abc", result.MessageID)

	assert.Equal(t, "whatsapp", captured["messaging_product"])
	assert.Equal(t, "template", captured["type"])

	template, ok := captured["template"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "welcome", template["name"])
}

func TestSendMessage_InteractiveButtons(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.btn"}]}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	result, err := g.SendMessage(t.Context(), gateway.OutboundMessage{
		To: "+5511999990000",
		Template: models.MessageTemplate{
			Body: "Want to hear more?",
			Buttons: []models.MessageButton{
				{ID: "btn-yes", Title: "Yes"},
				{ID: "btn-no", Title: "No"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.btn", result.MessageID)

	assert.Equal(t, "interactive", captured["type"])

	interactive, ok := captured["interactive"].(map[string]any)
	require.True(t, ok)

	action, ok := interactive["action"].(map[string]any)
	require.True(t, ok)

	buttons, ok := action["buttons"].([]any)
	require.True(t, ok)
	assert.Len(t, buttons, 2)
}

func TestSendMessage_PermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"recipient not on whatsapp","type":"invalid_request","code":131026}}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	_, err := g.SendMessage(t.Context(), gateway.OutboundMessage{
		To:       "+5511999990000",
		Template: models.MessageTemplate{Body: "hi"},
	})
	require.Error(t, err)
	assert.True(t, gateway.IsPermanent(err))
	assert.Contains(t, err.Error(), "recipient not on whatsapp")
}

func TestSendMessage_TransientFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"unavailable", http.StatusServiceUnavailable},
		{"throttled", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			g := newTestGateway(server.URL)

			_, err := g.SendMessage(t.Context(), gateway.OutboundMessage{
				To:       "+5511999990000",
				Template: models.MessageTemplate{Body: "hi"},
			})
			require.Error(t, err)
			assert.False(t, gateway.IsPermanent(err))
		})
	}
}

func TestSendMessage_MissingMessageID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer server.Close()

	g := newTestGateway(server.URL)

	_, err := g.SendMessage(t.Context(), gateway.OutboundMessage{
		To:       "+5511999990000",
		Template: models.MessageTemplate{Body: "hi"},
	})
	require.Error(t, err)
	assert.False(t, gateway.IsPermanent(err))
}
