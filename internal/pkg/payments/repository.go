package payments

import (
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
	"gorm.io/gorm"
)

// Repository provides the DB operations used by the reconciler, the
// expiration sweeper, and the real-time entitlement check.
type Repository interface {
	// WithTx runs fn against a transaction-scoped repository. Either
	// every row change inside fn lands, or none does.
	WithTx(fn func(Repository) error) error

	FindUserByEmail(email string) (*models.User, error)
	FindUserByID(id uint) (*models.User, error)
	SaveUser(user *models.User) error

	// FindEntitlingSubscription returns the user's subscription with
	// status active or on_hold, enforcing the one-entitling-row
	// invariant on every upsert path.
	FindEntitlingSubscription(userID uint) (*models.Subscription, error)
	FindActiveSubscription(userID uint) (*models.Subscription, error)
	FindLatestSubscription(userID uint) (*models.Subscription, error)
	FindSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	ListExpiredActiveSubscriptions(cutoff time.Time) ([]models.Subscription, error)
	ListActiveExpiringBetween(from, to time.Time) ([]models.Subscription, error)

	CreatePayment(p *models.PaymentHistory) error
	SavePayment(p *models.PaymentHistory) error
	FindPaymentByProviderPaymentID(providerPaymentID string) (*models.PaymentHistory, error)
	FindPendingPaymentBySubscriptionID(providerSubscriptionID string) (*models.PaymentHistory, error)
	ListPaymentsByUser(userID uint, limit int) ([]models.PaymentHistory, error)
	FindRecentPendingPayment(userID uint, since time.Time) (*models.PaymentHistory, error)
	FindLatestCompletedPayment(userID uint) (*models.PaymentHistory, error)

	CountSubscriptionsByStatus(status string) (int64, error)
	CountActiveExpiringBetween(from, to time.Time) (int64, error)
	CountActivePastEnd(now time.Time) (int64, error)
	CountPremiumUsers() (int64, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) FindUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) FindEntitlingSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status IN ?", userID, []string{models.SubscriptionStatusActive, models.SubscriptionStatusOnHold}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindActiveSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindLatestSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("provider_subscription_id = ?", providerSubscriptionID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListExpiredActiveSubscriptions(cutoff time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND current_period_end < ?", models.SubscriptionStatusActive, cutoff).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListActiveExpiringBetween(from, to time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND current_period_end > ? AND current_period_end <= ?", models.SubscriptionStatusActive, from, to).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreatePayment(p *models.PaymentHistory) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) SavePayment(p *models.PaymentHistory) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) FindPaymentByProviderPaymentID(providerPaymentID string) (*models.PaymentHistory, error) {
	var p models.PaymentHistory
	err := r.db.
		Where("provider_payment_id = ?", providerPaymentID).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPendingPaymentBySubscriptionID(providerSubscriptionID string) (*models.PaymentHistory, error) {
	var p models.PaymentHistory
	err := r.db.
		Where("provider_subscription_id = ? AND status = ?", providerSubscriptionID, models.PaymentStatusPending).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListPaymentsByUser(userID uint, limit int) ([]models.PaymentHistory, error) {
	var payments []models.PaymentHistory
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *gormRepository) FindRecentPendingPayment(userID uint, since time.Time) (*models.PaymentHistory, error) {
	var p models.PaymentHistory
	err := r.db.
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, models.PaymentStatusPending, since).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindLatestCompletedPayment(userID uint) (*models.PaymentHistory, error) {
	var p models.PaymentHistory
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.PaymentStatusCompleted).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CountSubscriptionsByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func (r *gormRepository) CountActiveExpiringBetween(from, to time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("status = ? AND current_period_end > ? AND current_period_end <= ?", models.SubscriptionStatusActive, from, to).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountActivePastEnd(now time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("status = ? AND current_period_end < ?", models.SubscriptionStatusActive, now).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CountPremiumUsers() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("is_premium = ?", true).Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		FirstOrCreate(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	return tx.RowsAffected > 0, event, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := timeutil.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
