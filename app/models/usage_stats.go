package models

import "time"

const (
	UsageActionGenerate = "generate"
	UsageActionExport   = "export"
	UsageActionCopy     = "copy"
)

// UsageStats is a lightweight event log used by the free-tier limits.
type UsageStats struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:idx_usage_stats_user_action,priority:1" json:"user_id"`
	Action    string    `gorm:"type:varchar(30);not null;index:idx_usage_stats_user_action,priority:2" json:"action"`
	Platform  string    `gorm:"type:varchar(30);default:null" json:"platform,omitempty"`
	ExtraData string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
