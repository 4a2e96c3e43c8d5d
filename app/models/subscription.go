package models

import "time"

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
	BillingCycleNone    = "none"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusOnHold    = "on_hold"
	SubscriptionStatusFailed    = "failed"
)

// Subscription is the durable record of a user's paid plan. Rows are
// never deleted; lifecycle events and the expiration sweep only move
// the status. User.IsPremium must always be recomputable from the
// newest row here.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanType               string     `gorm:"type:varchar(20);not null;default:'free'" json:"plan_type"`
	BillingCycle           string     `gorm:"type:varchar(16);not null;default:'none'" json:"billing_cycle"`
	Status                 string     `gorm:"type:varchar(20);not null;index:idx_subscriptions_user_status,priority:2;index" json:"status"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);default:null;index" json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);default:null" json:"-"`
	ProviderProductID      string     `gorm:"type:varchar(191);default:null" json:"-"`
	Amount                 float64    `gorm:"type:decimal(10,2);default:0" json:"amount"`
	Currency               string     `gorm:"type:varchar(8);default:'USD'" json:"currency"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	TrialEnd               *time.Time `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	ExtraMetadata          string     `gorm:"type:longtext" json:"-"` // raw provider payload snapshot for support investigations
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the subscription status grants premium
// access. On-hold subscriptions deliberately keep access until the
// provider resolves the hold.
func (s *Subscription) IsEntitling() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusOnHold
}
