package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
	"github.com/snippetstream/snippetstream/internal/pkg/payments"
	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
	"github.com/snippetstream/snippetstream/internal/pkg/usercontext"
)

// ingestWebhookEvent is swappable in tests.
var ingestWebhookEvent = func(evt *payments.CanonicalEvent, eventID string) payments.Outcome {
	return webhookReconciler().Ingest(evt, eventID)
}

// HandleDodoWebhook ingests provider webhooks. Once the body parses,
// the provider always gets a 200: retries cannot fix a missing user or
// an unhandled event type, and real processing failures are stored on
// the event row for operators instead.
func HandleDodoWebhook(c *fiber.Ctx) error {
	raw := c.Body()
	hdr := payments.WebhookHeaders{
		ID:        c.Get("webhook-id"),
		Signature: c.Get("webhook-signature"),
		Timestamp: c.Get("webhook-timestamp"),
	}
	secret := env.GetEnv("DODO_WEBHOOK_SECRET", "")

	evt, err := payments.ParseEvent(raw, hdr, secret)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid webhook payload"})
	}

	outcome := ingestWebhookEvent(evt, hdr.ID)
	if outcome.Err != nil {
		log.Errorf("[Webhook] processing %s event failed: %v", evt.Type, outcome.Err)
	}

	resp := fiber.Map{"status": "success", "event_type": evt.Type, "applied": outcome.Applied}
	if outcome.Reason != "" {
		resp["reason"] = outcome.Reason
	}
	return c.JSON(resp)
}

type checkoutRequest struct {
	BillingCycle string `json:"billing_cycle"`
}

// HandleCreateCheckout opens a provider checkout session and records
// the pending payment row the webhook will later complete.
func HandleCreateCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	cycle := payments.NormalizeBillingCycle(req.BillingCycle)

	repo := paymentsRepo()
	user, err := repo.FindUserByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	if _, err := repo.FindEntitlingSubscription(user.ID); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "An active subscription already exists"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription lookup failed"})
	}

	client := payments.NewDodoClientFromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sessionOut, err := client.CreateSubscriptionCheckout(ctx, user.Email, user.Name, cycle)
	if err != nil {
		log.Errorf("[Payment] creating checkout for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Checkout could not be created"})
	}

	now := timeutil.Now()
	paymentID, err := models.GenerateToken(8)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create payment record"})
	}
	payment := &models.PaymentHistory{
		UserID:                 user.ID,
		PaymentID:              "checkout_" + paymentID,
		ProviderPaymentID:      sessionOut.PaymentID,
		ProviderSessionID:      sessionOut.ClientSecret,
		ProviderSubscriptionID: sessionOut.SubscriptionID,
		Amount:                 0,
		Currency:               "USD",
		Status:                 models.PaymentStatusPending,
		PlanType:               models.PlanPro,
		BillingCycle:           cycle,
		CheckoutCreatedAt:      &now,
	}
	if err := repo.CreatePayment(payment); err != nil {
		log.Errorf("[Payment] recording checkout for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create payment record"})
	}

	return c.JSON(fiber.Map{
		"payment_id":   payment.PaymentID,
		"payment_link": sessionOut.PaymentLink,
	})
}

// HandlePaymentStatus reports the current entitlement and the state of
// the most recent payment, used by the post-checkout polling page.
func HandlePaymentStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	entitled, err := subscriptionManager().CheckUserSubscriptionStatus(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Status check failed"})
	}

	resp := fiber.Map{"is_premium": entitled}

	repo := paymentsRepo()
	if sub, err := repo.FindEntitlingSubscription(userCtx.UserID); err == nil {
		resp["subscription"] = fiber.Map{
			"plan_type":          sub.PlanType,
			"billing_cycle":      sub.BillingCycle,
			"status":             sub.Status,
			"current_period_end": formatTimePtr(sub.CurrentPeriodEnd),
		}
	}

	if payment, err := repo.FindRecentPendingPayment(userCtx.UserID, timeutil.Now().Add(-24*time.Hour)); err == nil {
		resp["pending_payment"] = fiber.Map{
			"payment_id": payment.PaymentID,
			"status":     payment.Status,
			"created_at": payment.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	return c.JSON(resp)
}

// HandleCancelSubscription cancels the user's subscription in-app.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	sub, err := subscriptionManager().CancelUserSubscription(userCtx.UserID)
	if err != nil {
		if errors.Is(err, payments.ErrNoActiveSubscription) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active subscription"})
		}
		log.Errorf("[Payment] cancelling subscription for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Cancellation failed"})
	}

	invalidatePremiumSession(c)

	return c.JSON(fiber.Map{
		"status":        "cancelled",
		"plan_type":     sub.PlanType,
		"billing_cycle": sub.BillingCycle,
	})
}

// HandlePaymentHistory lists the user's payment audit trail.
func HandlePaymentHistory(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	rows, err := paymentsRepo().ListPaymentsByUser(userCtx.UserID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payment history"})
	}

	out := make([]fiber.Map, 0, len(rows))
	for _, p := range rows {
		entry := fiber.Map{
			"payment_id":    p.PaymentID,
			"amount":        p.Amount,
			"currency":      p.Currency,
			"status":        p.Status,
			"plan_type":     p.PlanType,
			"billing_cycle": p.BillingCycle,
			"created_at":    p.CreatedAt.UTC().Format(time.RFC3339),
			"completed_at":  formatTimePtr(p.PaymentCompletedAt),
		}
		if p.FailureReason != "" {
			entry["failure_reason"] = p.FailureReason
		}
		if strings.TrimSpace(p.Notes) != "" {
			entry["notes"] = p.Notes
		}
		out = append(out, entry)
	}

	return c.JSON(fiber.Map{"payments": out})
}
