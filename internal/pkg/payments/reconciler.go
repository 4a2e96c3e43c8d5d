package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
	"gorm.io/gorm"
)

// Reconciler applies canonical provider events to the subscription
// state. Every handler is an idempotent upsert keyed on the provider
// subscription id, so replayed and out-of-order deliveries converge on
// the same final state instead of duplicating rows.
type Reconciler struct {
	repo  Repository
	locks *userLocks
	now   func() time.Time
}

// NewReconciler creates a reconciler over the given repository.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{
		repo:  repo,
		locks: newUserLocks(),
		now:   timeutil.Now,
	}
}

// Ingest records the delivery for replay detection, applies it, and
// stores the processing result on the stored event row. A replayed
// event id short-circuits to a no-op before any state is touched.
func (r *Reconciler) Ingest(evt *CanonicalEvent, providerEventID string) Outcome {
	record := &models.WebhookEvent{
		Provider:        ProviderDodo,
		ProviderEventID: providerEventID,
		EventType:       evt.Type,
		PayloadJSON:     string(evt.Raw),
		SignatureValid:  evt.Verified,
	}

	// Deliveries without an event id cannot be deduplicated; they are
	// still recorded and rely on the upsert semantics below.
	if providerEventID != "" {
		created, stored, err := r.repo.CreateWebhookEventIfNotExists(record)
		if err != nil {
			return failed(fmt.Errorf("recording webhook event: %w", err))
		}
		if !created {
			log.Infof("[Webhook] duplicate delivery %s/%s ignored", ProviderDodo, providerEventID)
			return noop("duplicate event")
		}
		record = stored
	}

	outcome := r.Apply(evt)

	if record.ID != 0 {
		errText := ""
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		if err := r.repo.MarkWebhookProcessed(record.ID, errText); err != nil {
			log.Errorf("[Webhook] marking event %d processed: %v", record.ID, err)
		}
	}

	return outcome
}

// Apply dispatches one canonical event to its handler and returns the
// explicit outcome. Unknown types are acknowledged as no-ops.
func (r *Reconciler) Apply(evt *CanonicalEvent) Outcome {
	switch evt.Type {
	case EventSubscriptionActive:
		return r.handleActivation(evt, "")
	case EventPaymentSucceeded:
		return r.handlePaymentSucceeded(evt)
	case EventSubscriptionRenewed:
		return r.handleRenewed(evt)
	case EventSubscriptionUpdated:
		return r.handleUpdated(evt)
	case EventSubscriptionOnHold:
		return r.handleStatusChange(evt, models.SubscriptionStatusOnHold, false)
	case EventSubscriptionFailed:
		return r.handleStatusChange(evt, models.SubscriptionStatusFailed, true)
	case EventSubscriptionCancelled:
		return r.handleStatusChange(evt, models.SubscriptionStatusCancelled, true)
	case EventPaymentFailed:
		return r.handlePaymentFailed(evt)
	default:
		log.Infof("[Webhook] unhandled event type %q acknowledged", evt.Type)
		return noop("unhandled event type")
	}
}

// resolveUser finds the account a webhook refers to via the customer
// email. A missing account is a routine no-op: checkout and webhook
// race, or the event belongs to a deleted account.
func (r *Reconciler) resolveUser(evt *CanonicalEvent) (*models.User, Outcome) {
	email := customerEmail(evt.Data)
	if email == "" {
		return nil, noop("event carries no customer email")
	}

	user, err := r.repo.FindUserByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Webhook] no account for customer email on %s event", evt.Type)
			return nil, noop("no matching user account")
		}
		return nil, failed(fmt.Errorf("looking up user: %w", err))
	}
	return user, Outcome{}
}

// handleActivation processes subscription.active. It upserts the
// user's entitling subscription, grants premium, and records a
// completed payment row. paymentID overrides the generated audit id
// when the caller already owns a payment row (payment.succeeded path).
func (r *Reconciler) handleActivation(evt *CanonicalEvent, completedPaymentID string) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	unlock := r.locks.lock(user.ID)
	defer unlock()

	providerSubID := stringField(evt.Data, "subscription_id", "id")
	cycle := NormalizeBillingCycle(stringField(evt.Data, "payment_frequency_interval", "billing_cycle", "interval"))
	amount := eventAmount(evt.Data)
	now := r.now()
	periodEnd := now.AddDate(0, 0, PeriodDays(cycle))

	err := r.repo.WithTx(func(tx Repository) error {
		sub, err := r.upsertTarget(tx, user.ID, providerSubID)
		if err != nil {
			return err
		}

		sub.UserID = user.ID
		sub.PlanType = models.PlanPro
		sub.BillingCycle = cycle
		sub.Status = models.SubscriptionStatusActive
		if providerSubID != "" {
			sub.ProviderSubscriptionID = providerSubID
		}
		if cid := customerID(evt.Data); cid != "" {
			sub.ProviderCustomerID = cid
		}
		if pid := stringField(evt.Data, "product_id"); pid != "" {
			sub.ProviderProductID = pid
		}
		sub.Amount = amount
		sub.Currency = eventCurrency(evt.Data)
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &periodEnd
		sub.ExtraMetadata = evt.DataJSON()
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("saving subscription: %w", err)
		}

		if completedPaymentID == "" {
			payment := &models.PaymentHistory{
				UserID:                 user.ID,
				SubscriptionID:         &sub.ID,
				PaymentID:              newPaymentID("webhook"),
				ProviderSubscriptionID: providerSubID,
				Amount:                 amount,
				Currency:               sub.Currency,
				Status:                 models.PaymentStatusCompleted,
				PlanType:               sub.PlanType,
				BillingCycle:           cycle,
				PaymentCompletedAt:     &now,
				PaymentMetadata:        evt.DataJSON(),
				Notes:                  "activated via " + evt.Type + " webhook",
			}
			if err := tx.CreatePayment(payment); err != nil {
				return fmt.Errorf("recording activation payment: %w", err)
			}
		}

		user.IsPremium = true
		return tx.SaveUser(user)
	})
	if err != nil {
		return failed(err)
	}

	log.Infof("[Webhook] activated subscription for user %d (%s)", user.ID, cycle)
	return applied()
}

// handlePaymentSucceeded completes the pending checkout row when one
// exists, then runs the activation path. Treating it as a full
// activation makes delivery order irrelevant: whichever of
// payment.succeeded and subscription.active lands first ends the user
// in the same active state.
func (r *Reconciler) handlePaymentSucceeded(evt *CanonicalEvent) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	providerPaymentID := stringField(evt.Data, "payment_id", "id")
	providerSubID := stringField(evt.Data, "subscription_id")
	now := r.now()

	completedID := ""
	err := r.repo.WithTx(func(tx Repository) error {
		pending, err := r.findPendingPayment(tx, user.ID, providerSubID)
		if err != nil {
			return err
		}
		if pending == nil {
			return nil
		}

		pending.Status = models.PaymentStatusCompleted
		pending.ProviderPaymentID = providerPaymentID
		if providerSubID != "" {
			pending.ProviderSubscriptionID = providerSubID
		}
		pending.PaymentCompletedAt = &now
		pending.PaymentMetadata = evt.DataJSON()
		if err := tx.SavePayment(pending); err != nil {
			return fmt.Errorf("completing pending payment: %w", err)
		}
		completedID = pending.PaymentID
		return nil
	})
	if err != nil {
		return failed(err)
	}

	return r.handleActivation(evt, completedID)
}

// findPendingPayment locates the checkout row a successful payment
// settles: by provider subscription id when the event carries one,
// otherwise the user's most recent pending row from the last day.
func (r *Reconciler) findPendingPayment(tx Repository, userID uint, providerSubID string) (*models.PaymentHistory, error) {
	if providerSubID != "" {
		p, err := tx.FindPendingPaymentBySubscriptionID(providerSubID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up pending payment: %w", err)
		}
	}

	p, err := tx.FindRecentPendingPayment(userID, r.now().Add(-24*time.Hour))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up pending payment: %w", err)
	}
	return p, nil
}

// handleRenewed extends the current period of an existing subscription
// and records a renewal payment. When no subscription exists yet the
// renewal arrived before activation, so it falls back to the full
// activation path instead of dropping the event.
func (r *Reconciler) handleRenewed(evt *CanonicalEvent) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	unlock := r.locks.lock(user.ID)

	providerSubID := stringField(evt.Data, "subscription_id", "id")
	sub, err := r.findSubscription(user.ID, providerSubID)
	if err != nil {
		unlock()
		return failed(err)
	}
	if sub == nil {
		unlock()
		log.Warnf("[Webhook] renewal for user %d without existing subscription, treating as activation", user.ID)
		return r.handleActivation(evt, "")
	}
	defer unlock()

	now := r.now()
	cycle := sub.BillingCycle
	if raw := stringField(evt.Data, "payment_frequency_interval", "billing_cycle", "interval"); raw != "" {
		cycle = NormalizeBillingCycle(raw)
	}
	periodEnd := now.AddDate(0, 0, PeriodDays(cycle))
	amount := eventAmount(evt.Data)

	err = r.repo.WithTx(func(tx Repository) error {
		sub.Status = models.SubscriptionStatusActive
		sub.BillingCycle = cycle
		sub.Amount = amount
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &periodEnd
		sub.ExtraMetadata = evt.DataJSON()
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("saving renewed subscription: %w", err)
		}

		payment := &models.PaymentHistory{
			UserID:                 user.ID,
			SubscriptionID:         &sub.ID,
			PaymentID:              newPaymentID("renewal"),
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			Amount:                 amount,
			Currency:               eventCurrency(evt.Data),
			Status:                 models.PaymentStatusCompleted,
			PlanType:               sub.PlanType,
			BillingCycle:           cycle,
			PaymentCompletedAt:     &now,
			PaymentMetadata:        evt.DataJSON(),
			Notes:                  "subscription renewed",
		}
		if err := tx.CreatePayment(payment); err != nil {
			return fmt.Errorf("recording renewal payment: %w", err)
		}

		user.IsPremium = true
		return tx.SaveUser(user)
	})
	if err != nil {
		return failed(err)
	}

	log.Infof("[Webhook] renewed subscription %d for user %d until %s", sub.ID, user.ID, periodEnd.Format(time.RFC3339))
	return applied()
}

// handleUpdated refreshes provider metadata without touching status,
// period, or entitlement. The provider emits it for plan parameter
// changes that do not affect access.
func (r *Reconciler) handleUpdated(evt *CanonicalEvent) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	unlock := r.locks.lock(user.ID)
	defer unlock()

	providerSubID := stringField(evt.Data, "subscription_id", "id")
	sub, err := r.findSubscription(user.ID, providerSubID)
	if err != nil {
		return failed(err)
	}
	if sub == nil {
		return noop("no subscription to update")
	}

	if providerSubID != "" {
		sub.ProviderSubscriptionID = providerSubID
	}
	if cid := customerID(evt.Data); cid != "" {
		sub.ProviderCustomerID = cid
	}
	if raw := stringField(evt.Data, "payment_frequency_interval", "billing_cycle", "interval"); raw != "" {
		sub.BillingCycle = NormalizeBillingCycle(raw)
	}
	if _, ok := numberField(evt.Data, "recurring_pre_tax_amount", "amount", "total_amount"); ok {
		sub.Amount = eventAmount(evt.Data)
	}
	sub.ExtraMetadata = evt.DataJSON()
	if err := r.repo.SaveSubscription(sub); err != nil {
		return failed(fmt.Errorf("saving updated subscription: %w", err))
	}
	return applied()
}

// handleStatusChange moves the subscription into the given status.
// on_hold only records the status and never writes the premium flag,
// so access survives the grace window; failed and cancelled revoke it.
func (r *Reconciler) handleStatusChange(evt *CanonicalEvent, status string, revoke bool) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	unlock := r.locks.lock(user.ID)
	defer unlock()

	providerSubID := stringField(evt.Data, "subscription_id", "id")
	sub, err := r.findSubscription(user.ID, providerSubID)
	if err != nil {
		return failed(err)
	}
	if sub == nil {
		return noop("no subscription for status change")
	}
	if sub.Status == status {
		return noop("status already " + status)
	}

	err = r.repo.WithTx(func(tx Repository) error {
		sub.Status = status
		sub.ExtraMetadata = evt.DataJSON()
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("saving subscription status: %w", err)
		}
		if revoke && user.IsPremium {
			user.IsPremium = false
			return tx.SaveUser(user)
		}
		return nil
	})
	if err != nil {
		return failed(err)
	}

	log.Infof("[Webhook] subscription %d for user %d moved to %s", sub.ID, user.ID, status)
	return applied()
}

// handlePaymentFailed marks the matching payment row failed with the
// provider's reason. Entitlement is untouched: the provider follows up
// with subscription.on_hold or subscription.failed when access should
// change.
func (r *Reconciler) handlePaymentFailed(evt *CanonicalEvent) Outcome {
	user, out := r.resolveUser(evt)
	if user == nil {
		return out
	}

	providerPaymentID := stringField(evt.Data, "payment_id", "id")
	reason := stringField(evt.Data, "error_message", "failure_reason", "reason")
	if reason == "" {
		reason = "payment failed"
	}
	now := r.now()

	err := r.repo.WithTx(func(tx Repository) error {
		var payment *models.PaymentHistory
		if providerPaymentID != "" {
			p, err := tx.FindPaymentByProviderPaymentID(providerPaymentID)
			if err == nil {
				payment = p
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("looking up payment: %w", err)
			}
		}
		if payment == nil {
			p, err := r.findPendingPayment(tx, user.ID, stringField(evt.Data, "subscription_id"))
			if err != nil {
				return err
			}
			payment = p
		}
		if payment == nil {
			payment = &models.PaymentHistory{
				UserID:            user.ID,
				PaymentID:         newPaymentID("failed"),
				ProviderPaymentID: providerPaymentID,
				Amount:            eventAmount(evt.Data),
				Currency:          eventCurrency(evt.Data),
				PlanType:          models.PlanPro,
				BillingCycle:      models.BillingCycleNone,
			}
		}

		payment.Status = models.PaymentStatusFailed
		payment.FailureReason = reason
		payment.RetryCount++
		payment.PaymentMetadata = evt.DataJSON()
		if payment.ID == 0 {
			payment.CheckoutCreatedAt = &now
			return tx.CreatePayment(payment)
		}
		return tx.SavePayment(payment)
	})
	if err != nil {
		return failed(err)
	}
	return applied()
}

// findSubscription resolves the target subscription: by provider id
// first, then the user's entitling row, then the newest row of any
// status so late events after expiry still find their record.
func (r *Reconciler) findSubscription(userID uint, providerSubID string) (*models.Subscription, error) {
	if providerSubID != "" {
		sub, err := r.repo.FindSubscriptionByProviderID(providerSubID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up subscription: %w", err)
		}
	}

	sub, err := r.repo.FindEntitlingSubscription(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up subscription: %w", err)
	}

	sub, err = r.repo.FindLatestSubscription(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up subscription: %w", err)
	}
	return sub, nil
}

// upsertTarget picks the subscription row an activation writes to:
// the row already bound to the provider id, else the user's entitling
// row, else a fresh row. This keeps one entitling row per user across
// replays and order-shuffled deliveries.
func (r *Reconciler) upsertTarget(tx Repository, userID uint, providerSubID string) (*models.Subscription, error) {
	if providerSubID != "" {
		sub, err := tx.FindSubscriptionByProviderID(providerSubID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up subscription: %w", err)
		}
	}

	sub, err := tx.FindEntitlingSubscription(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up subscription: %w", err)
	}
	return &models.Subscription{UserID: userID}, nil
}

// newPaymentID generates the internal audit identifier for a payment
// row, prefixed with its origin.
func newPaymentID(origin string) string {
	return origin + "_" + uuid.New().String()[:8]
}
