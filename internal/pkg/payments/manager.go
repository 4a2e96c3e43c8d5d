package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
	"gorm.io/gorm"
)

const (
	defaultGracePeriodDays = 3
	expiringSoonWindow     = 3 * 24 * time.Hour
)

// ExpiryNotifier receives advisory notices about subscriptions that
// are about to lapse. Implementations must not block the sweep.
type ExpiryNotifier interface {
	SendExpiryReminder(user *models.User, sub *models.Subscription) error
}

// Manager owns subscription expiration: the periodic sweep, the
// real-time entitlement check, and the health counters. Expiration is
// never destructive, it only moves rows to expired and clears the
// premium flag.
type Manager struct {
	repo            Repository
	locks           *userLocks
	gracePeriodDays int
	notifier        ExpiryNotifier
	now             func() time.Time
}

// NewManager creates a manager with the grace period taken from the
// SUBSCRIPTION_GRACE_PERIOD_DAYS environment variable.
func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:            repo,
		locks:           newUserLocks(),
		gracePeriodDays: env.GetEnvInt("SUBSCRIPTION_GRACE_PERIOD_DAYS", defaultGracePeriodDays),
		now:             timeutil.Now,
	}
}

// SetNotifier installs the expiry reminder sink. Passing nil disables
// reminders.
func (m *Manager) SetNotifier(n ExpiryNotifier) {
	m.notifier = n
}

// GracePeriod returns the configured grace window.
func (m *Manager) GracePeriod() time.Duration {
	return time.Duration(m.gracePeriodDays) * 24 * time.Hour
}

// CheckExpiredSubscriptions is the periodic sweep. It expires every
// active subscription whose period ended more than the grace window
// ago, one row at a time so a single bad row cannot stall the rest.
// It returns how many subscriptions were expired.
func (m *Manager) CheckExpiredSubscriptions() (int, error) {
	cutoff := m.now().Add(-m.GracePeriod())

	subs, err := m.repo.ListExpiredActiveSubscriptions(cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing expired subscriptions: %w", err)
	}

	expired := 0
	for i := range subs {
		if err := m.expireSubscription(&subs[i]); err != nil {
			log.Errorf("[Subscription] expiring subscription %d: %v", subs[i].ID, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Infof("[Subscription] sweep expired %d subscription(s)", expired)
	}

	m.checkExpiringSoon()

	return expired, nil
}

// expireSubscription performs one atomic expiration: status to
// expired, premium flag cleared, and a zero-amount audit row keeping
// the original period end and the grace window that was honored.
func (m *Manager) expireSubscription(sub *models.Subscription) error {
	unlock := m.locks.lock(sub.UserID)
	defer unlock()

	return m.repo.WithTx(func(tx Repository) error {
		// Re-read inside the lock: a renewal webhook may have landed
		// between the sweep listing and now.
		current, err := tx.FindLatestSubscription(sub.UserID)
		if err != nil {
			return fmt.Errorf("re-reading subscription: %w", err)
		}
		if current.ID != sub.ID || current.Status != models.SubscriptionStatusActive {
			return nil
		}
		if current.CurrentPeriodEnd == nil || current.CurrentPeriodEnd.After(m.now().Add(-m.GracePeriod())) {
			return nil
		}

		originalEnd := *current.CurrentPeriodEnd
		current.Status = models.SubscriptionStatusExpired
		if err := tx.SaveSubscription(current); err != nil {
			return fmt.Errorf("saving expired subscription: %w", err)
		}

		now := m.now()
		payment := &models.PaymentHistory{
			UserID:                 current.UserID,
			SubscriptionID:         &current.ID,
			PaymentID:              newPaymentID("expiry"),
			ProviderSubscriptionID: current.ProviderSubscriptionID,
			Amount:                 0,
			Currency:               current.Currency,
			Status:                 models.PaymentStatusExpired,
			PlanType:               current.PlanType,
			BillingCycle:           current.BillingCycle,
			VerificationCompletedAt: &now,
			PaymentMetadata: fmt.Sprintf(`{"original_period_end":%q,"grace_period_days":%d}`,
				originalEnd.Format(time.RFC3339), m.gracePeriodDays),
			Notes: "subscription expired after grace period",
		}
		if err := tx.CreatePayment(payment); err != nil {
			return fmt.Errorf("recording expiration: %w", err)
		}

		user, err := tx.FindUserByID(current.UserID)
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}
		if user.IsPremium {
			user.IsPremium = false
			if err := tx.SaveUser(user); err != nil {
				return fmt.Errorf("clearing premium flag: %w", err)
			}
		}
		return nil
	})
}

// checkExpiringSoon logs subscriptions whose period ends within the
// reminder window and hands them to the notifier. Advisory only.
func (m *Manager) checkExpiringSoon() {
	now := m.now()
	subs, err := m.repo.ListActiveExpiringBetween(now, now.Add(expiringSoonWindow))
	if err != nil {
		log.Errorf("[Subscription] listing expiring subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	log.Infof("[Subscription] %d subscription(s) expire within %s", len(subs), expiringSoonWindow)

	if m.notifier == nil {
		return
	}
	for i := range subs {
		user, err := m.repo.FindUserByID(subs[i].UserID)
		if err != nil {
			log.Errorf("[Subscription] loading user %d for expiry reminder: %v", subs[i].UserID, err)
			continue
		}
		if err := m.notifier.SendExpiryReminder(user, &subs[i]); err != nil {
			log.Errorf("[Subscription] sending expiry reminder to user %d: %v", user.ID, err)
		}
	}
}

// CheckUserSubscriptionStatus is the real-time entitlement check used
// on every gated request. A user without the premium flag is denied
// without touching the subscription rows; only webhooks grant access.
// For flagged users it verifies the entitling subscription and heals
// the flag downward when the rows no longer back it, including
// expiring a subscription inline when the grace window has passed
// between sweeps.
func (m *Manager) CheckUserSubscriptionStatus(userID uint) (bool, error) {
	user, err := m.repo.FindUserByID(userID)
	if err != nil {
		return false, fmt.Errorf("loading user: %w", err)
	}

	if !user.IsPremium {
		return false, nil
	}

	sub, err := m.repo.FindEntitlingSubscription(userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("loading subscription: %w", err)
		}
		// No entitling row behind the flag. Heal it downward.
		m.revokePremium(user)
		return false, nil
	}

	// On-hold keeps access; the provider decides how the hold ends.
	if sub.Status == models.SubscriptionStatusOnHold {
		return true, nil
	}

	if sub.CurrentPeriodEnd != nil && m.now().After(sub.CurrentPeriodEnd.Add(m.GracePeriod())) {
		if err := m.expireSubscription(sub); err != nil {
			log.Errorf("[Subscription] inline expiry for user %d: %v", userID, err)
		}
		return false, nil
	}

	return true, nil
}

// revokePremium clears a premium flag the subscription rows no longer
// back.
func (m *Manager) revokePremium(user *models.User) {
	user.IsPremium = false
	if err := m.repo.SaveUser(user); err != nil {
		log.Errorf("[Subscription] healing premium flag for user %d: %v", user.ID, err)
	}
}

// Health is the operational snapshot served on the admin endpoint.
type Health struct {
	ActiveSubscriptions    int64     `json:"active_subscriptions"`
	OnHoldSubscriptions    int64     `json:"on_hold_subscriptions"`
	CancelledSubscriptions int64     `json:"cancelled_subscriptions"`
	ExpiredSubscriptions   int64     `json:"expired_subscriptions"`
	ExpiringWithin3Days    int64     `json:"expiring_within_3_days"`
	ActivePastPeriodEnd    int64     `json:"active_past_period_end"`
	PremiumUsers           int64     `json:"premium_users"`
	GracePeriodDays        int       `json:"grace_period_days"`
	CheckedAt              time.Time `json:"checked_at"`
}

// CheckHealth gathers subscription counters for monitoring. A nonzero
// ActivePastPeriodEnd between sweeps is normal; one that keeps growing
// means the sweep is not running.
func (m *Manager) CheckHealth() (*Health, error) {
	now := m.now()
	h := &Health{
		GracePeriodDays: m.gracePeriodDays,
		CheckedAt:       now,
	}

	var err error
	if h.ActiveSubscriptions, err = m.repo.CountSubscriptionsByStatus(models.SubscriptionStatusActive); err != nil {
		return nil, fmt.Errorf("counting active subscriptions: %w", err)
	}
	if h.OnHoldSubscriptions, err = m.repo.CountSubscriptionsByStatus(models.SubscriptionStatusOnHold); err != nil {
		return nil, fmt.Errorf("counting on-hold subscriptions: %w", err)
	}
	if h.CancelledSubscriptions, err = m.repo.CountSubscriptionsByStatus(models.SubscriptionStatusCancelled); err != nil {
		return nil, fmt.Errorf("counting cancelled subscriptions: %w", err)
	}
	if h.ExpiredSubscriptions, err = m.repo.CountSubscriptionsByStatus(models.SubscriptionStatusExpired); err != nil {
		return nil, fmt.Errorf("counting expired subscriptions: %w", err)
	}
	if h.ExpiringWithin3Days, err = m.repo.CountActiveExpiringBetween(now, now.Add(expiringSoonWindow)); err != nil {
		return nil, fmt.Errorf("counting expiring subscriptions: %w", err)
	}
	if h.ActivePastPeriodEnd, err = m.repo.CountActivePastEnd(now); err != nil {
		return nil, fmt.Errorf("counting overdue subscriptions: %w", err)
	}
	if h.PremiumUsers, err = m.repo.CountPremiumUsers(); err != nil {
		return nil, fmt.Errorf("counting premium users: %w", err)
	}

	return h, nil
}

// CancelUserSubscription handles an in-app cancellation: the
// subscription moves to cancelled, premium access is revoked, and an
// audit row records who initiated it. The subscription row itself is
// kept for history.
func (m *Manager) CancelUserSubscription(userID uint) (*models.Subscription, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	sub, err := m.repo.FindEntitlingSubscription(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("loading subscription: %w", err)
	}

	now := m.now()
	err = m.repo.WithTx(func(tx Repository) error {
		sub.Status = models.SubscriptionStatusCancelled
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("saving cancelled subscription: %w", err)
		}

		payment := &models.PaymentHistory{
			UserID:                 userID,
			SubscriptionID:         &sub.ID,
			PaymentID:              newPaymentID("cancel"),
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			Amount:                 0,
			Currency:               sub.Currency,
			Status:                 models.PaymentStatusCancelled,
			PlanType:               sub.PlanType,
			BillingCycle:           sub.BillingCycle,
			VerificationCompletedAt: &now,
			Notes: "cancelled by user",
		}
		if err := tx.CreatePayment(payment); err != nil {
			return fmt.Errorf("recording cancellation: %w", err)
		}

		user, err := tx.FindUserByID(userID)
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}
		if user.IsPremium {
			user.IsPremium = false
			if err := tx.SaveUser(user); err != nil {
				return fmt.Errorf("clearing premium flag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Subscription] user %d cancelled subscription %d", userID, sub.ID)
	return sub, nil
}

// ErrNoActiveSubscription is returned when a cancel request finds no
// entitling subscription.
var ErrNoActiveSubscription = errors.New("no active subscription")
