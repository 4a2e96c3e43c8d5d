package payments

import "encoding/json"

// Provider constants used across payment models and controllers.
const (
	ProviderDodo = "dodo"
)

// Webhook event types of the payment provider. A 2xx response
// acknowledges receipt; anything outside this set is acknowledged and
// dropped so the provider does not retry-storm the endpoint.
const (
	EventSubscriptionActive    = "subscription.active"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionOnHold    = "subscription.on_hold"
	EventSubscriptionFailed    = "subscription.failed"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventPaymentSucceeded      = "payment.succeeded"
	EventPaymentFailed         = "payment.failed"
)

// CanonicalEvent is the normalized internal representation of a
// provider webhook, independent of the wire shape the provider SDK
// delivered. All business logic runs on this type only.
type CanonicalEvent struct {
	Type       string
	Data       map[string]interface{}
	BusinessID string
	Timestamp  string

	// Verified is false when the event was accepted through the
	// unverified fallback path (no secret configured or signature
	// mismatch).
	Verified bool

	// Raw is the original request body, kept for the forensic payload
	// snapshot on Subscription and PaymentHistory rows.
	Raw []byte
}

// DataJSON returns the event data serialized for metadata columns.
func (e *CanonicalEvent) DataJSON() string {
	if len(e.Data) == 0 {
		return ""
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

// Outcome is the explicit result of applying one canonical event. The
// ingestor boundary always acks the provider; the outcome makes the
// distinction between applied work, routine no-ops, and alertable
// failures visible instead of hiding it in a catch-all.
type Outcome struct {
	Applied bool
	Reason  string
	Err     error
}

func applied() Outcome {
	return Outcome{Applied: true}
}

func noop(reason string) Outcome {
	return Outcome{Reason: reason}
}

func failed(err error) Outcome {
	return Outcome{Err: err}
}

// stringField probes the event data for the first non-empty string
// under the given keys.
func stringField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// customerEmail resolves the customer email from either the nested
// customer mapping or a flat field. Providers are not consistent about
// which shape they deliver.
func customerEmail(data map[string]interface{}) string {
	if customer, ok := data["customer"].(map[string]interface{}); ok {
		if email := stringField(customer, "email", "customer_email"); email != "" {
			return email
		}
	}
	return stringField(data, "customer_email", "email")
}

// customerID resolves the provider-side customer id, when present.
func customerID(data map[string]interface{}) string {
	if customer, ok := data["customer"].(map[string]interface{}); ok {
		if id := stringField(customer, "customer_id", "id"); id != "" {
			return id
		}
	}
	return stringField(data, "customer_id")
}

// numberField probes for a numeric value. JSON numbers decode as
// float64; integers delivered as strings are not accepted.
func numberField(data map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
