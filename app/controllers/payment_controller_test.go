package controllers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snippetstream/snippetstream/internal/pkg/payments"
)

func TestHandleDodoWebhook_AckShape(t *testing.T) {
	orig := ingestWebhookEvent
	defer func() { ingestWebhookEvent = orig }()

	var gotType string
	ingestWebhookEvent = func(evt *payments.CanonicalEvent, eventID string) payments.Outcome {
		gotType = evt.Type
		return payments.Outcome{Applied: true}
	}

	app := fiber.New()
	app.Post("/webhook", HandleDodoWebhook)

	body := `{"type":"subscription.active","data":{"subscription_id":"sub_1"}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("webhook-id", "msg_1")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, "subscription.active", ack["event_type"])
	assert.Equal(t, true, ack["applied"])
	assert.Equal(t, "subscription.active", gotType)
}

func TestHandleDodoWebhook_SkippedEventStillAcked(t *testing.T) {
	orig := ingestWebhookEvent
	defer func() { ingestWebhookEvent = orig }()

	ingestWebhookEvent = func(evt *payments.CanonicalEvent, eventID string) payments.Outcome {
		return payments.Outcome{Reason: "unhandled event type"}
	}

	app := fiber.New()
	app.Post("/webhook", HandleDodoWebhook)

	body := `{"type":"dispute.opened","data":{}}`
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, "dispute.opened", ack["event_type"])
	assert.Equal(t, false, ack["applied"])
	assert.Equal(t, "unhandled event type", ack["reason"])
}
