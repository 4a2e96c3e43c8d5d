package payments

import (
	"sync"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"gorm.io/gorm"
)

// memoryRepository is an in-memory Repository used by the reconciler
// and manager tests. Latest-row queries rely on insertion order, which
// matches the auto-increment ordering of the real store.
type memoryRepository struct {
	mu sync.Mutex

	users    map[uint]*models.User
	subs     []*models.Subscription
	payments []*models.PaymentHistory
	events   []*models.WebhookEvent

	nextUserID    uint
	nextSubID     uint
	nextPaymentID uint
	nextEventID   uint
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		users:         make(map[uint]*models.User),
		nextUserID:    1,
		nextSubID:     1,
		nextPaymentID: 1,
		nextEventID:   1,
	}
}

func (m *memoryRepository) addUser(user *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		user.ID = m.nextUserID
		m.nextUserID++
	}
	m.users[user.ID] = user
	return user
}

func (m *memoryRepository) addSubscription(sub *models.Subscription) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = m.nextSubID
		m.nextSubID++
	}
	m.subs = append(m.subs, sub)
	return sub
}

func (m *memoryRepository) WithTx(fn func(Repository) error) error {
	return fn(m)
}

func (m *memoryRepository) FindUserByEmail(email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindUserByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) SaveUser(user *models.User) error {
	m.addUser(user)
	return nil
}

func (m *memoryRepository) FindEntitlingSubscription(userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.subs) - 1; i >= 0; i-- {
		s := m.subs[i]
		if s.UserID == userID && s.IsEntitling() {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindActiveSubscription(userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.subs) - 1; i >= 0; i-- {
		s := m.subs[i]
		if s.UserID == userID && s.Status == models.SubscriptionStatusActive {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindLatestSubscription(userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.subs) - 1; i >= 0; i-- {
		if m.subs[i].UserID == userID {
			return m.subs[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.subs) - 1; i >= 0; i-- {
		if m.subs[i].ProviderSubscriptionID == providerSubscriptionID {
			return m.subs[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) SaveSubscription(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = m.nextSubID
		m.nextSubID++
		m.subs = append(m.subs, sub)
		return nil
	}
	for i, s := range m.subs {
		if s.ID == sub.ID {
			m.subs[i] = sub
			return nil
		}
	}
	m.subs = append(m.subs, sub)
	return nil
}

func (m *memoryRepository) ListExpiredActiveSubscriptions(cutoff time.Time) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subs {
		if s.Status == models.SubscriptionStatusActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepository) ListActiveExpiringBetween(from, to time.Time) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subs {
		if s.Status != models.SubscriptionStatusActive || s.CurrentPeriodEnd == nil {
			continue
		}
		if s.CurrentPeriodEnd.After(from) && !s.CurrentPeriodEnd.After(to) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepository) CreatePayment(p *models.PaymentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextPaymentID
	m.nextPaymentID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *memoryRepository) SavePayment(p *models.PaymentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.payments {
		if existing.ID == p.ID {
			m.payments[i] = p
			return nil
		}
	}
	p.ID = m.nextPaymentID
	m.nextPaymentID++
	m.payments = append(m.payments, p)
	return nil
}

func (m *memoryRepository) FindPaymentByProviderPaymentID(providerPaymentID string) (*models.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].ProviderPaymentID == providerPaymentID {
			return m.payments[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindPendingPaymentBySubscriptionID(providerSubscriptionID string) (*models.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.ProviderSubscriptionID == providerSubscriptionID && p.Status == models.PaymentStatusPending {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) ListPaymentsByUser(userID uint, limit int) ([]models.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentHistory
	for i := len(m.payments) - 1; i >= 0 && len(out) < limit; i-- {
		if m.payments[i].UserID == userID {
			out = append(out, *m.payments[i])
		}
	}
	return out, nil
}

func (m *memoryRepository) FindRecentPendingPayment(userID uint, since time.Time) (*models.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.UserID == userID && p.Status == models.PaymentStatusPending && !p.CreatedAt.Before(since) {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) FindLatestCompletedPayment(userID uint) (*models.PaymentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.UserID == userID && p.Status == models.PaymentStatusCompleted {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepository) CountSubscriptionsByStatus(status string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.subs {
		if s.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) CountActiveExpiringBetween(from, to time.Time) (int64, error) {
	subs, _ := m.ListActiveExpiringBetween(from, to)
	return int64(len(subs)), nil
}

func (m *memoryRepository) CountActivePastEnd(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, s := range m.subs {
		if s.Status == models.SubscriptionStatusActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(now) {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) CountPremiumUsers() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, u := range m.users {
		if u.IsPremium {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			return false, e, nil
		}
	}
	event.ID = m.nextEventID
	m.nextEventID++
	m.events = append(m.events, event)
	return true, event, nil
}

func (m *memoryRepository) MarkWebhookProcessed(id uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}
