package featuregate

import (
	"errors"
	"fmt"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/timeutil"
	"gorm.io/gorm"
)

// Limits describes what a plan may do. A zero GenerationsPer24h means
// unlimited.
type Limits struct {
	GenerationsPer24h int
	MaxBatchItems     int
	AllowURLSource    bool
	AllowFileExport   bool
}

const usageWindow = 24 * time.Hour

var (
	ErrQuotaExceeded    = errors.New("generation quota exceeded")
	ErrSourceNotAllowed = errors.New("content source not available on this plan")
	ErrBatchTooLarge    = errors.New("batch size exceeds plan limit")
)

// freeLimits and proLimits are the two tiers the product sells. The
// free tier is a trial surface: a couple of runs a day, pasted text
// only, copy-to-clipboard instead of file export.
var (
	freeLimits = Limits{
		GenerationsPer24h: 2,
		MaxBatchItems:     1,
		AllowURLSource:    false,
		AllowFileExport:   false,
	}
	proLimits = Limits{
		GenerationsPer24h: 0,
		MaxBatchItems:     50,
		AllowURLSource:    true,
		AllowFileExport:   true,
	}
)

// LimitsFor returns the limits for a user's current entitlement. The
// premium flag is the cached truth written by the billing layer.
func LimitsFor(user *models.User) Limits {
	if user != nil && user.IsPremium {
		return proLimits
	}
	return freeLimits
}

// CanExport reports whether the user may download generated content as
// files.
func CanExport(user *models.User) bool {
	return LimitsFor(user).AllowFileExport
}

// UsageStore is the persistence the gate counts against.
type UsageStore interface {
	CountActionsSince(userID uint, action string, since time.Time) (int64, error)
	RecordAction(stat *models.UsageStats) error
}

type gormUsageStore struct {
	db *gorm.DB
}

func (s *gormUsageStore) CountActionsSince(userID uint, action string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.UsageStats{}).
		Where("user_id = ? AND action = ? AND created_at >= ?", userID, action, since).
		Count(&count).Error
	return count, err
}

func (s *gormUsageStore) RecordAction(stat *models.UsageStats) error {
	return s.db.Create(stat).Error
}

// Gate enforces plan limits against recorded usage.
type Gate struct {
	store UsageStore
	now   func() time.Time
}

func New(db *gorm.DB) *Gate {
	return NewWithStore(&gormUsageStore{db: db})
}

func NewWithStore(store UsageStore) *Gate {
	return &Gate{store: store, now: timeutil.Now}
}

// CheckGeneration validates one generation request before any work
// happens: source availability, batch size, then the rolling 24h
// quota. The returned error wraps one of the exported sentinel errors.
func (g *Gate) CheckGeneration(user *models.User, source string, items int) error {
	limits := LimitsFor(user)

	if source == models.ContentSourceURL && !limits.AllowURLSource {
		return fmt.Errorf("%w: url extraction requires a pro plan", ErrSourceNotAllowed)
	}

	if items < 1 {
		items = 1
	}
	if items > limits.MaxBatchItems {
		return fmt.Errorf("%w: %d items requested, plan allows %d", ErrBatchTooLarge, items, limits.MaxBatchItems)
	}

	if limits.GenerationsPer24h == 0 {
		return nil
	}

	used, err := g.store.CountActionsSince(user.ID, models.UsageActionGenerate, g.now().Add(-usageWindow))
	if err != nil {
		return fmt.Errorf("counting recent generations: %w", err)
	}
	if used+int64(items) > int64(limits.GenerationsPer24h) {
		return fmt.Errorf("%w: %d of %d used in the last 24h", ErrQuotaExceeded, used, limits.GenerationsPer24h)
	}
	return nil
}

// RemainingGenerations returns how many runs the user has left in the
// current window, or -1 for unlimited plans.
func (g *Gate) RemainingGenerations(user *models.User) (int, error) {
	limits := LimitsFor(user)
	if limits.GenerationsPer24h == 0 {
		return -1, nil
	}
	used, err := g.store.CountActionsSince(user.ID, models.UsageActionGenerate, g.now().Add(-usageWindow))
	if err != nil {
		return 0, err
	}
	remaining := limits.GenerationsPer24h - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RecordUsage appends one usage event. Failures are reported but must
// not abort the request that triggered them.
func (g *Gate) RecordUsage(userID uint, action, platform string) error {
	return g.store.RecordAction(&models.UsageStats{
		UserID:   userID,
		Action:   action,
		Platform: platform,
	})
}
