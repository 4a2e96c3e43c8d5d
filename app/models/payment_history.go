package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusCancelled = "cancelled"
)

// PaymentHistory is the append-only audit trail of the billing system.
// Every Subscription state transition writes or updates a row here
// explaining why the transition happened (checkout, webhook, renewal,
// sweep expiry, cancellation).
type PaymentHistory struct {
	ID             uint  `gorm:"primaryKey" json:"id"`
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	SubscriptionID *uint `gorm:"default:null;index" json:"subscription_id,omitempty"`

	// Identifiers
	PaymentID              string `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_id"` // internally generated
	ProviderPaymentID      string `gorm:"type:varchar(191);default:null;index" json:"provider_payment_id,omitempty"`
	ProviderSessionID      string `gorm:"type:varchar(191);default:null" json:"provider_session_id,omitempty"`
	ProviderSubscriptionID string `gorm:"type:varchar(191);default:null;index" json:"provider_subscription_id,omitempty"`

	// Transaction details
	Amount       float64 `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency     string  `gorm:"type:varchar(8);default:'USD'" json:"currency"`
	Status       string  `gorm:"type:varchar(20);not null;index" json:"status"`
	PlanType     string  `gorm:"type:varchar(20);not null" json:"plan_type"`
	BillingCycle string  `gorm:"type:varchar(16);not null" json:"billing_cycle"`

	// Payment flow tracking
	CheckoutCreatedAt       *time.Time `gorm:"type:timestamp;default:null" json:"checkout_created_at,omitempty"`
	PaymentCompletedAt      *time.Time `gorm:"type:timestamp;default:null" json:"payment_completed_at,omitempty"`
	VerificationCompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"verification_completed_at,omitempty"`

	// Failure tracking
	FailureReason string `gorm:"type:varchar(255);default:null" json:"failure_reason,omitempty"`
	RetryCount    int    `gorm:"default:0" json:"retry_count"`

	PaymentMetadata string `gorm:"type:longtext" json:"-"`
	Notes           string `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
