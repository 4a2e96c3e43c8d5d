package models

import "time"

const (
	ContentSourceText = "text"
	ContentSourceURL  = "url"
)

// ContentGeneration stores one repurposing run and its generated
// variants.
type ContentGeneration struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	OriginalContent   string    `gorm:"type:longtext;not null" json:"original_content"`
	ContentSource     string    `gorm:"type:varchar(10);default:'text'" json:"content_source"`
	TwitterThread     string    `gorm:"type:longtext" json:"twitter_thread,omitempty"`
	LinkedinPost      string    `gorm:"type:longtext" json:"linkedin_post,omitempty"`
	InstagramCarousel string    `gorm:"type:longtext" json:"instagram_carousel,omitempty"`
	ProcessingTime    float64   `gorm:"default:0" json:"processing_time"`
	ShareSlug         string    `gorm:"type:varchar(16);default:null;uniqueIndex" json:"share_slug,omitempty"`
	ViewCount         int64     `gorm:"default:0" json:"view_count"`
	ExportCount       int64     `gorm:"default:0" json:"export_count"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
