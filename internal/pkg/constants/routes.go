package constants

// Static route constants
const (
	LoginRoute   = "/login"
	PublicRoute  = "/"
	ShareRoute   = "/s"
	WebhookRoute = "/api/v1/payments/webhook"
)
