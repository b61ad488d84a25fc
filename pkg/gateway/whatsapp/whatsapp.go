// Package whatsapp implements the message gateway on the WhatsApp Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/itinera/pkg/gateway"
	"github.com/dukex/itinera/pkg/models"
)

const defaultTimeoutSeconds = 30

// Gateway sends messages through one WhatsApp Business phone number.
type Gateway struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	client        *http.Client
	logger        *slog.Logger
}

// Config carries the Cloud API credentials.
type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
}

// NewGateway creates a WhatsApp gateway.
func NewGateway(logger *slog.Logger, config Config) *Gateway {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v21.0"
	}

	return &Gateway{
		baseURL:       baseURL,
		phoneNumberID: config.PhoneNumberID,
		accessToken:   config.AccessToken,
		client:        &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger:        logger.With("module", "whatsapp_gateway"),
	}
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// SendMessage posts the message and returns the provider message id.
func (g *Gateway) SendMessage(ctx context.Context, message gateway.OutboundMessage) (*gateway.SendResult, error) {
	payload, err := buildPayload(message)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/messages", g.baseURL, g.phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &gateway.SendError{Detail: fmt.Sprintf("whatsapp request failed: %v", err), Permanent: false}
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.SendError{Detail: fmt.Sprintf("failed to read whatsapp response: %v", err), Permanent: false}
	}

	var decoded apiResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("failed to decode whatsapp response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, classifyFailure(resp.StatusCode, decoded.Error)
	}

	if len(decoded.Messages) == 0 {
		return nil, &gateway.SendError{Detail: "whatsapp response carried no message id", Permanent: false}
	}

	g.logger.DebugContext(ctx, "Message accepted",
		"message_id", decoded.Messages[0].ID,
		"enrollment_id", message.EnrollmentID,
	)

	return &gateway.SendResult{MessageID: decoded.Messages[0].ID}, nil
}

// classifyFailure maps HTTP status codes onto the retry policy: server
// errors and throttling retry later, everything else is permanent.
func classifyFailure(statusCode int, apiErr *apiError) *gateway.SendError {
	detail := fmt.Sprintf("whatsapp send rejected with status %d", statusCode)
	code := statusCode

	if apiErr != nil {
		detail = fmt.Sprintf("whatsapp send rejected: %s (code %d)", apiErr.Message, apiErr.Code)
		code = apiErr.Code
	}

	permanent := statusCode < 500 && statusCode != http.StatusTooManyRequests

	return &gateway.SendError{Code: code, Detail: detail, Permanent: permanent}
}

// buildPayload renders the Cloud API request body. Messages with buttons go
// out as interactive messages, named templates as template messages, and
// everything else as plain text.
func buildPayload(message gateway.OutboundMessage) ([]byte, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                message.To,
	}

	switch {
	case len(message.Template.Buttons) > 0:
		buttons := make([]map[string]any, 0, len(message.Template.Buttons))
		for _, button := range message.Template.Buttons {
			buttons = append(buttons, map[string]any{
				"type": "reply",
				"reply": map[string]any{
					"id":    button.ID,
					"title": button.Title,
				},
			})
		}

		body["type"] = "interactive"
		body["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": message.Template.Body},
			"action": map[string]any{"buttons": buttons},
		}
	case message.Template.Name != "":
		body["type"] = "template"
		body["template"] = map[string]any{
			"name":     message.Template.Name,
			"language": map[string]any{"code": languageOrDefault(message.Template)},
		}
	default:
		body["type"] = "text"
		body["text"] = map[string]any{"body": message.Template.Body}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal whatsapp payload: %w", err)
	}

	return payload, nil
}

func languageOrDefault(template models.MessageTemplate) string {
	if template.Language == "" {
		return "en"
	}

	return template.Language
}
