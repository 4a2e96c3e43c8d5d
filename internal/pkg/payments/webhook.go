package payments

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// webhookEnvelope is the provider's outer wire shape. Sandbox
// deliveries and SDK-unwrapped events differ in which of these fields
// are present, so everything except the body itself is optional.
type webhookEnvelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	BusinessID string                 `json:"business_id"`
	Timestamp  string                 `json:"timestamp"`
}

// ParseEvent verifies and normalizes a raw webhook delivery into the
// canonical event. Verification failure is not fatal: sandbox and
// low-security deployments cannot always be verified, so the event is
// processed in degraded mode and flagged. Only an unparseable body
// returns an error.
func ParseEvent(raw []byte, hdr WebhookHeaders, secret string) (*CanonicalEvent, error) {
	verified := false
	if secret != "" {
		verified = VerifyWebhookSignature(raw, hdr, secret)
	}
	if !verified {
		log.Warnf("[Webhook] processing event %q without signature verification", hdr.ID)
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}

	eventType := envelope.Type
	if eventType == "" {
		eventType = "unknown"
	}
	data := envelope.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	return &CanonicalEvent{
		Type:       eventType,
		Data:       data,
		BusinessID: envelope.BusinessID,
		Timestamp:  envelope.Timestamp,
		Verified:   verified,
		Raw:        raw,
	}, nil
}

// KnownEventType reports whether the reconciler has a handler for the
// given event type.
func KnownEventType(eventType string) bool {
	switch eventType {
	case EventSubscriptionActive, EventSubscriptionUpdated, EventSubscriptionOnHold,
		EventSubscriptionFailed, EventSubscriptionRenewed, EventSubscriptionCancelled,
		EventPaymentSucceeded, EventPaymentFailed:
		return true
	default:
		return false
	}
}
