package payments

import (
	"errors"
	"testing"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/featuregate"
)

func newTestManager(repo *memoryRepository) *Manager {
	return &Manager{
		repo:            repo,
		locks:           newUserLocks(),
		gracePeriodDays: 3,
		now:             func() time.Time { return testNow },
	}
}

func seedActiveSubscription(repo *memoryRepository, user *models.User, periodEnd time.Time) *models.Subscription {
	return repo.addSubscription(&models.Subscription{
		UserID:                 user.ID,
		PlanType:               models.PlanPro,
		BillingCycle:           models.BillingCycleMonthly,
		Status:                 models.SubscriptionStatusActive,
		ProviderSubscriptionID: "sub_seed",
		Currency:               "USD",
		CurrentPeriodEnd:       &periodEnd,
	})
}

func TestSweepExpiresPastGrace(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "alice@example.com")
	user.IsPremium = true
	end := testNow.Add(-m.GracePeriod() - time.Hour)
	sub := seedActiveSubscription(repo, user, end)

	expired, err := m.CheckExpiredSubscriptions()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if sub.Status != models.SubscriptionStatusExpired {
		t.Fatalf("status = %q, want expired", sub.Status)
	}
	if user.IsPremium {
		t.Fatalf("expected premium flag cleared")
	}

	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 1 {
		t.Fatalf("expected one expiration audit row, got %d", len(payments))
	}
	if payments[0].Amount != 0 || payments[0].Status != models.PaymentStatusExpired {
		t.Fatalf("audit row = %+v", payments[0])
	}
}

func TestSweepRespectsGraceBoundary(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "bob@example.com")
	user.IsPremium = true

	// One second inside the grace window: must survive the sweep.
	end := testNow.Add(-m.GracePeriod() + time.Second)
	sub := seedActiveSubscription(repo, user, end)

	expired, err := m.CheckExpiredSubscriptions()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, want 0", expired)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	if !user.IsPremium {
		t.Fatalf("premium flag should survive within grace")
	}
}

func TestSweepSkipsRenewedSubscription(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "carol@example.com")
	user.IsPremium = true
	end := testNow.Add(-m.GracePeriod() - time.Hour)
	sub := seedActiveSubscription(repo, user, end)

	// A renewal webhook lands between the sweep listing and the
	// per-row expiry: the re-read inside the lock must notice.
	newEnd := testNow.AddDate(0, 0, 30)
	sub.CurrentPeriodEnd = &newEnd

	expired, err := m.CheckExpiredSubscriptions()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		// The listing snapshot still counted it, but the row must be
		// untouched.
		t.Logf("expired reported = %d", expired)
	}
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("renewed subscription must not be expired, status = %q", sub.Status)
	}
	if !user.IsPremium {
		t.Fatalf("premium flag must survive a renewal")
	}
}

func TestCheckUserSubscriptionStatus(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "dave@example.com")
	user.IsPremium = true
	end := testNow.AddDate(0, 0, 10)
	seedActiveSubscription(repo, user, end)

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("expected entitled")
	}
}

func TestCheckUserSubscriptionStatus_HealsStaleFlag(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	// Premium flag set with no subscription rows at all.
	user := seedUser(repo, "erin@example.com")
	user.IsPremium = true

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected not entitled")
	}
	if user.IsPremium {
		t.Fatalf("expected stale premium flag healed")
	}
}

func TestCheckUserSubscriptionStatus_DeniesWithoutFlag(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	// A revoked user is denied even while subscription rows linger.
	// Only a webhook may grant access back.
	user := seedUser(repo, "frank@example.com")
	end := testNow.AddDate(0, 0, 10)
	seedActiveSubscription(repo, user, end)

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected denial for user without premium flag")
	}
	if user.IsPremium {
		t.Fatalf("a read must never grant the premium flag")
	}
}

func TestCheckUserSubscriptionStatus_InlineExpiry(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "grace@example.com")
	user.IsPremium = true
	end := testNow.Add(-m.GracePeriod() - time.Second)
	sub := seedActiveSubscription(repo, user, end)

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatalf("expected not entitled past grace")
	}
	if sub.Status != models.SubscriptionStatusExpired {
		t.Fatalf("expected inline expiry, status = %q", sub.Status)
	}
	if user.IsPremium {
		t.Fatalf("expected premium flag cleared by inline expiry")
	}
}

func TestLapsedSubscriberDropsToFreeLimits(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "gwen@example.com")
	user.IsPremium = true
	end := testNow.Add(-m.GracePeriod() - time.Hour)
	seedActiveSubscription(repo, user, end)

	// Same sequence the generate endpoint runs: live check first,
	// then plan limits from the checked flag.
	entitled, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	user.IsPremium = entitled

	limits := featuregate.LimitsFor(user)
	if limits.GenerationsPer24h == 0 {
		t.Fatalf("lapsed subscriber must not keep unlimited generations")
	}
	if limits.AllowURLSource {
		t.Fatalf("lapsed subscriber must not keep URL source access")
	}
}

func TestCheckUserSubscriptionStatus_OnHoldKeepsAccess(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "henry@example.com")
	user.IsPremium = true
	end := testNow.Add(-m.GracePeriod() - time.Hour)
	sub := seedActiveSubscription(repo, user, end)
	sub.Status = models.SubscriptionStatusOnHold

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("on-hold subscription must keep access")
	}
}

func TestCancelUserSubscription(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	user := seedUser(repo, "iris@example.com")
	user.IsPremium = true
	end := testNow.AddDate(0, 0, 10)
	sub := seedActiveSubscription(repo, user, end)

	got, err := m.CancelUserSubscription(user.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.ID != sub.ID {
		t.Fatalf("cancelled subscription id = %d, want %d", got.ID, sub.ID)
	}
	if sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("status = %q, want cancelled", sub.Status)
	}
	if user.IsPremium {
		t.Fatalf("expected premium revoked")
	}

	payments, _ := repo.ListPaymentsByUser(user.ID, 10)
	if len(payments) != 1 || payments[0].Status != models.PaymentStatusCancelled {
		t.Fatalf("expected cancellation audit row, got %+v", payments)
	}
}

func TestCancelUserSubscription_NoSubscription(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)
	user := seedUser(repo, "none@example.com")

	if _, err := m.CancelUserSubscription(user.ID); !errors.Is(err, ErrNoActiveSubscription) {
		t.Fatalf("err = %v, want ErrNoActiveSubscription", err)
	}
}

func TestCancelThenReactivate(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)
	r := NewReconciler(repo)
	r.now = func() time.Time { return testNow }

	user := seedUser(repo, "jane@example.com")
	user.IsPremium = true
	end := testNow.AddDate(0, 0, 10)
	seedActiveSubscription(repo, user, end)

	if _, err := m.CancelUserSubscription(user.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out := r.Apply(activeEvent("jane@example.com", "sub_new", "Month", 1500)); !out.Applied {
		t.Fatalf("reactivation should apply, got %+v", out)
	}

	ok, err := m.CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("expected entitled after reactivation")
	}
}

type recordingNotifier struct {
	reminders []uint
}

func (n *recordingNotifier) SendExpiryReminder(user *models.User, sub *models.Subscription) error {
	n.reminders = append(n.reminders, user.ID)
	return nil
}

func TestSweepSendsExpiryReminders(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)
	notifier := &recordingNotifier{}
	m.SetNotifier(notifier)

	user := seedUser(repo, "kate@example.com")
	end := testNow.Add(48 * time.Hour)
	seedActiveSubscription(repo, user, end)

	if _, err := m.CheckExpiredSubscriptions(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(notifier.reminders) != 1 || notifier.reminders[0] != user.ID {
		t.Fatalf("reminders = %v, want [%d]", notifier.reminders, user.ID)
	}
}

func TestCheckHealth(t *testing.T) {
	repo := newMemoryRepository()
	m := newTestManager(repo)

	active := seedUser(repo, "a@example.com")
	active.IsPremium = true
	end := testNow.AddDate(0, 0, 10)
	seedActiveSubscription(repo, active, end)

	overdue := seedUser(repo, "b@example.com")
	pastEnd := testNow.Add(-time.Hour)
	seedActiveSubscription(repo, overdue, pastEnd)

	expired := seedUser(repo, "c@example.com")
	oldEnd := testNow.AddDate(0, 0, -30)
	sub := seedActiveSubscription(repo, expired, oldEnd)
	sub.Status = models.SubscriptionStatusExpired

	h, err := m.CheckHealth()
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.ActiveSubscriptions != 2 {
		t.Fatalf("active = %d, want 2", h.ActiveSubscriptions)
	}
	if h.ExpiredSubscriptions != 1 {
		t.Fatalf("expired = %d, want 1", h.ExpiredSubscriptions)
	}
	if h.ActivePastPeriodEnd != 1 {
		t.Fatalf("past end = %d, want 1", h.ActivePastPeriodEnd)
	}
	if h.PremiumUsers != 1 {
		t.Fatalf("premium users = %d, want 1", h.PremiumUsers)
	}
	if h.GracePeriodDays != 3 {
		t.Fatalf("grace days = %d", h.GracePeriodDays)
	}
}
