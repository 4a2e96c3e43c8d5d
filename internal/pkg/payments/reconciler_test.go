package payments

import (
	"testing"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestReconciler() (*Reconciler, *memoryRepository) {
	repo := newMemoryRepository()
	r := NewReconciler(repo)
	r.now = func() time.Time { return testNow }
	return r, repo
}

func seedUser(repo *memoryRepository, email string) *models.User {
	return repo.addUser(&models.User{
		Name:   "Test User",
		Email:  email,
		Role:   models.ROLE_USER,
		Status: models.STATUS_ACTIVE,
	})
}

func activeEvent(email, subID, interval string, cents float64) *CanonicalEvent {
	return &CanonicalEvent{
		Type: EventSubscriptionActive,
		Data: map[string]interface{}{
			"subscription_id":            subID,
			"payment_frequency_interval": interval,
			"recurring_pre_tax_amount":   cents,
			"customer":                   map[string]interface{}{"email": email},
		},
		Verified: true,
		Raw:      []byte(`{}`),
	}
}

func TestReconcilerActivation(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "alice@example.com")

	out := r.Apply(activeEvent("alice@example.com", "sub_1", "Month", 1500))
	if !out.Applied {
		t.Fatalf("expected applied outcome, got %+v", out)
	}

	sub, err := repo.FindEntitlingSubscription(user.ID)
	if err != nil {
		t.Fatalf("expected entitling subscription: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q", sub.Status)
	}
	if sub.BillingCycle != models.BillingCycleMonthly {
		t.Fatalf("cycle = %q", sub.BillingCycle)
	}
	if sub.Amount != 15.00 {
		t.Fatalf("amount = %v, want 15.00", sub.Amount)
	}
	wantEnd := testNow.AddDate(0, 0, 30)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, wantEnd)
	}
	if !user.IsPremium {
		t.Fatalf("expected premium flag set")
	}

	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 1 || payments[0].Status != models.PaymentStatusCompleted {
		t.Fatalf("expected one completed payment row, got %+v", payments)
	}
}

func TestReconcilerActivation_ReplayConverges(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "alice@example.com")

	evt := activeEvent("alice@example.com", "sub_1", "Year", 14999)
	r.Apply(evt)
	r.Apply(evt)

	count := 0
	for _, s := range repo.subs {
		if s.UserID == user.ID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one subscription row after replay, got %d", count)
	}
	if repo.subs[0].BillingCycle != models.BillingCycleYearly {
		t.Fatalf("cycle = %q", repo.subs[0].BillingCycle)
	}

	// Each delivery still books its payment, only the subscription
	// row converges.
	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 2 {
		t.Fatalf("expected two payment rows after replay, got %d", len(payments))
	}
}

func TestReconcilerIngest_DuplicateEventID(t *testing.T) {
	r, repo := newTestReconciler()
	seedUser(repo, "alice@example.com")

	evt := activeEvent("alice@example.com", "sub_1", "Month", 1500)
	first := r.Ingest(evt, "evt_1")
	second := r.Ingest(evt, "evt_1")

	if !first.Applied {
		t.Fatalf("first delivery should apply, got %+v", first)
	}
	if second.Applied || second.Reason != "duplicate event" {
		t.Fatalf("second delivery should be a duplicate no-op, got %+v", second)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected one stored webhook event, got %d", len(repo.events))
	}
	if repo.events[0].ProcessedAt == nil {
		t.Fatalf("expected stored event marked processed")
	}
}

func TestReconcilerPaymentSucceeded_CompletesCheckout(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "bob@example.com")

	pending := &models.PaymentHistory{
		UserID:                 user.ID,
		PaymentID:              "checkout_abc",
		ProviderSubscriptionID: "sub_9",
		Amount:                 15.00,
		Status:                 models.PaymentStatusPending,
		PlanType:               models.PlanPro,
		BillingCycle:           models.BillingCycleMonthly,
		CreatedAt:              testNow.Add(-time.Hour),
	}
	if err := repo.CreatePayment(pending); err != nil {
		t.Fatalf("seeding pending payment: %v", err)
	}

	evt := &CanonicalEvent{
		Type: EventPaymentSucceeded,
		Data: map[string]interface{}{
			"payment_id":      "pay_1",
			"subscription_id": "sub_9",
			"total_amount":    float64(1500),
			"customer":        map[string]interface{}{"email": "bob@example.com"},
		},
		Raw: []byte(`{}`),
	}
	out := r.Apply(evt)
	if !out.Applied {
		t.Fatalf("expected applied outcome, got %+v", out)
	}

	if pending.Status != models.PaymentStatusCompleted {
		t.Fatalf("pending payment status = %q, want completed", pending.Status)
	}
	if pending.ProviderPaymentID != "pay_1" {
		t.Fatalf("provider payment id = %q", pending.ProviderPaymentID)
	}

	sub, err := repo.FindEntitlingSubscription(user.ID)
	if err != nil {
		t.Fatalf("expected subscription after payment.succeeded: %v", err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q", sub.Status)
	}

	// The completed checkout row is the audit record; no second row.
	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 1 {
		t.Fatalf("expected single payment row, got %d", len(payments))
	}
}

func TestReconcilerOrderTolerance_PaymentThenActive(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "bob@example.com")

	payEvt := &CanonicalEvent{
		Type: EventPaymentSucceeded,
		Data: map[string]interface{}{
			"payment_id":      "pay_1",
			"subscription_id": "sub_9",
			"customer":        map[string]interface{}{"email": "bob@example.com"},
		},
		Raw: []byte(`{}`),
	}
	if out := r.Apply(payEvt); !out.Applied {
		t.Fatalf("payment.succeeded should apply, got %+v", out)
	}
	if out := r.Apply(activeEvent("bob@example.com", "sub_9", "Month", 1500)); !out.Applied {
		t.Fatalf("subscription.active should apply, got %+v", out)
	}

	count := 0
	for _, s := range repo.subs {
		if s.UserID == user.ID && s.IsEntitling() {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one entitling subscription, got %d", count)
	}
	if !user.IsPremium {
		t.Fatalf("expected premium after both events")
	}
}

func TestReconcilerRenewed_ExtendsPeriod(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "carol@example.com")

	oldEnd := testNow.Add(24 * time.Hour)
	repo.addSubscription(&models.Subscription{
		UserID:                 user.ID,
		PlanType:               models.PlanPro,
		BillingCycle:           models.BillingCycleMonthly,
		Status:                 models.SubscriptionStatusActive,
		ProviderSubscriptionID: "sub_2",
		CurrentPeriodEnd:       &oldEnd,
	})

	evt := &CanonicalEvent{
		Type: EventSubscriptionRenewed,
		Data: map[string]interface{}{
			"subscription_id":          "sub_2",
			"recurring_pre_tax_amount": float64(1500),
			"customer":                 map[string]interface{}{"email": "carol@example.com"},
		},
		Raw: []byte(`{}`),
	}
	if out := r.Apply(evt); !out.Applied {
		t.Fatalf("expected applied, got %+v", out)
	}

	sub, _ := repo.FindSubscriptionByProviderID("sub_2")
	wantEnd := testNow.AddDate(0, 0, 30)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("period end = %v, want %v", sub.CurrentPeriodEnd, wantEnd)
	}

	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 1 || payments[0].Notes != "subscription renewed" {
		t.Fatalf("expected renewal payment row, got %+v", payments)
	}
}

func TestReconcilerRenewed_WithoutSubscriptionActivates(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "dave@example.com")

	evt := &CanonicalEvent{
		Type: EventSubscriptionRenewed,
		Data: map[string]interface{}{
			"subscription_id":            "sub_3",
			"payment_frequency_interval": "Month",
			"customer":                   map[string]interface{}{"email": "dave@example.com"},
		},
		Raw: []byte(`{}`),
	}
	if out := r.Apply(evt); !out.Applied {
		t.Fatalf("expected renewal fallback to activate, got %+v", out)
	}
	if _, err := repo.FindEntitlingSubscription(user.ID); err != nil {
		t.Fatalf("expected subscription created by renewal fallback: %v", err)
	}
	if !user.IsPremium {
		t.Fatalf("expected premium after renewal fallback")
	}
}

func TestReconcilerStatusChanges(t *testing.T) {
	tests := []struct {
		eventType   string
		wantStatus  string
		wantPremium bool
	}{
		{eventType: EventSubscriptionOnHold, wantStatus: models.SubscriptionStatusOnHold, wantPremium: true},
		{eventType: EventSubscriptionFailed, wantStatus: models.SubscriptionStatusFailed, wantPremium: false},
		{eventType: EventSubscriptionCancelled, wantStatus: models.SubscriptionStatusCancelled, wantPremium: false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			r, repo := newTestReconciler()
			user := seedUser(repo, "erin@example.com")
			user.IsPremium = true
			end := testNow.AddDate(0, 0, 20)
			repo.addSubscription(&models.Subscription{
				UserID:                 user.ID,
				Status:                 models.SubscriptionStatusActive,
				ProviderSubscriptionID: "sub_4",
				CurrentPeriodEnd:       &end,
			})

			evt := &CanonicalEvent{
				Type: tt.eventType,
				Data: map[string]interface{}{
					"subscription_id": "sub_4",
					"customer":        map[string]interface{}{"email": "erin@example.com"},
				},
				Raw: []byte(`{}`),
			}
			if out := r.Apply(evt); !out.Applied {
				t.Fatalf("expected applied, got %+v", out)
			}

			sub, _ := repo.FindSubscriptionByProviderID("sub_4")
			if sub.Status != tt.wantStatus {
				t.Fatalf("status = %q, want %q", sub.Status, tt.wantStatus)
			}
			if user.IsPremium != tt.wantPremium {
				t.Fatalf("premium = %v, want %v", user.IsPremium, tt.wantPremium)
			}
		})
	}
}

func TestReconcilerOnHoldAfterFailed_DoesNotRegrant(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "gina@example.com")
	user.IsPremium = true
	end := testNow.AddDate(0, 0, 20)
	repo.addSubscription(&models.Subscription{
		UserID:                 user.ID,
		Status:                 models.SubscriptionStatusActive,
		ProviderSubscriptionID: "sub_5",
		CurrentPeriodEnd:       &end,
	})

	makeEvent := func(eventType string) *CanonicalEvent {
		return &CanonicalEvent{
			Type: eventType,
			Data: map[string]interface{}{
				"subscription_id": "sub_5",
				"customer":        map[string]interface{}{"email": "gina@example.com"},
			},
			Raw: []byte(`{}`),
		}
	}

	if out := r.Apply(makeEvent(EventSubscriptionFailed)); !out.Applied {
		t.Fatalf("expected failed event applied, got %+v", out)
	}
	if user.IsPremium {
		t.Fatalf("expected premium revoked after failed event")
	}

	// An on_hold delivered late must not hand access back.
	if out := r.Apply(makeEvent(EventSubscriptionOnHold)); !out.Applied {
		t.Fatalf("expected on_hold event applied, got %+v", out)
	}
	if user.IsPremium {
		t.Fatalf("expected premium to stay revoked after late on_hold")
	}

	sub, _ := repo.FindSubscriptionByProviderID("sub_5")
	if sub.Status != models.SubscriptionStatusOnHold {
		t.Fatalf("status = %q, want %q", sub.Status, models.SubscriptionStatusOnHold)
	}
}

func TestReconcilerStatusChange_NoSubscriptionIsNoop(t *testing.T) {
	r, repo := newTestReconciler()
	seedUser(repo, "frank@example.com")

	evt := &CanonicalEvent{
		Type: EventSubscriptionCancelled,
		Data: map[string]interface{}{
			"customer": map[string]interface{}{"email": "frank@example.com"},
		},
		Raw: []byte(`{}`),
	}
	out := r.Apply(evt)
	if out.Applied || out.Err != nil {
		t.Fatalf("expected noop, got %+v", out)
	}
}

func TestReconcilerMissingEmailIsNoop(t *testing.T) {
	r, _ := newTestReconciler()
	evt := &CanonicalEvent{
		Type: EventSubscriptionActive,
		Data: map[string]interface{}{"subscription_id": "sub_5"},
		Raw:  []byte(`{}`),
	}
	out := r.Apply(evt)
	if out.Applied || out.Err != nil {
		t.Fatalf("expected noop for missing email, got %+v", out)
	}
}

func TestReconcilerUnknownUserIsNoop(t *testing.T) {
	r, _ := newTestReconciler()
	out := r.Apply(activeEvent("ghost@example.com", "sub_6", "Month", 1500))
	if out.Applied || out.Err != nil {
		t.Fatalf("expected noop for unknown account, got %+v", out)
	}
}

func TestReconcilerPaymentFailed_MarksPendingRow(t *testing.T) {
	r, repo := newTestReconciler()
	user := seedUser(repo, "grace@example.com")

	pending := &models.PaymentHistory{
		UserID:                 user.ID,
		PaymentID:              "checkout_x",
		ProviderSubscriptionID: "sub_7",
		Amount:                 15.00,
		Status:                 models.PaymentStatusPending,
		PlanType:               models.PlanPro,
		BillingCycle:           models.BillingCycleMonthly,
		CreatedAt:              testNow.Add(-time.Hour),
	}
	if err := repo.CreatePayment(pending); err != nil {
		t.Fatalf("seeding pending payment: %v", err)
	}

	evt := &CanonicalEvent{
		Type: EventPaymentFailed,
		Data: map[string]interface{}{
			"subscription_id": "sub_7",
			"error_message":   "card declined",
			"customer":        map[string]interface{}{"email": "grace@example.com"},
		},
		Raw: []byte(`{}`),
	}
	if out := r.Apply(evt); !out.Applied {
		t.Fatalf("expected applied, got %+v", out)
	}

	if pending.Status != models.PaymentStatusFailed {
		t.Fatalf("status = %q, want failed", pending.Status)
	}
	if pending.FailureReason != "card declined" {
		t.Fatalf("failure reason = %q", pending.FailureReason)
	}
	if pending.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", pending.RetryCount)
	}
}

func TestReconcilerUnknownEventTypeIsNoop(t *testing.T) {
	r, _ := newTestReconciler()
	out := r.Apply(&CanonicalEvent{Type: "subscription.telepathy", Data: map[string]interface{}{}, Raw: []byte(`{}`)})
	if out.Applied || out.Err != nil {
		t.Fatalf("expected noop for unknown type, got %+v", out)
	}
}
