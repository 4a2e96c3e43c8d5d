package statistics

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/cache"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
)

const (
	CacheKeyUsersTotal       = "statistics:users:total"
	CacheKeyPremiumUsers     = "statistics:users:premium"
	CacheKeyGenerationsTotal = "statistics:generations:total"
	CacheKeyGenerationsDaily = "statistics:generations:daily:%s" // date YYYY-MM-DD
	CacheExpiration          = 30 * time.Minute
)

// StatisticsData holds the counters shown on the landing page and the
// admin dashboard.
type StatisticsData struct {
	TotalUsers       int
	PremiumUsers     int
	TotalGenerations int
	TodayGenerations int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached counters are stale.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached counters when the interval
// has passed. Safe to call on every request.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Error updating statistics cache: %v", err)
			return
		}
		lastCacheUpdate = time.Now()
	}
}

// ResetCacheUpdateTimer forces the next UpdateCacheIfNeeded to refresh.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recounts everything from the database and
// writes the results to the cache.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return fmt.Errorf("counting users: %w", err)
	}

	var premiumUsers int64
	if err := db.Model(&models.User{}).Where("is_premium = ?", true).Count(&premiumUsers).Error; err != nil {
		return fmt.Errorf("counting premium users: %w", err)
	}

	var totalGenerations int64
	if err := db.Model(&models.ContentGeneration{}).Count(&totalGenerations).Error; err != nil {
		return fmt.Errorf("counting generations: %w", err)
	}

	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	var todayGenerations int64
	if err := db.Model(&models.ContentGeneration{}).
		Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).
		Count(&todayGenerations).Error; err != nil {
		return fmt.Errorf("counting today's generations: %w", err)
	}

	if err := cache.Set(CacheKeyUsersTotal, int(totalUsers), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyPremiumUsers, int(premiumUsers), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyGenerationsTotal, int(totalGenerations), CacheExpiration); err != nil {
		return err
	}
	dailyKey := fmt.Sprintf(CacheKeyGenerationsDaily, today)
	return cache.Set(dailyKey, int(todayGenerations), CacheExpiration)
}

// GetStatistics returns the current counters, serving from cache and
// recounting on a miss.
func GetStatistics() (*StatisticsData, error) {
	UpdateCacheIfNeeded()

	totalUsers, err := cache.GetInt(CacheKeyUsersTotal)
	if err != nil {
		if err := UpdateStatisticsCache(); err != nil {
			return nil, err
		}
		totalUsers, _ = cache.GetInt(CacheKeyUsersTotal)
	}

	premiumUsers, _ := cache.GetInt(CacheKeyPremiumUsers)
	totalGenerations, _ := cache.GetInt(CacheKeyGenerationsTotal)

	dailyKey := fmt.Sprintf(CacheKeyGenerationsDaily, time.Now().Format("2006-01-02"))
	todayGenerations, _ := cache.GetInt(dailyKey)

	return &StatisticsData{
		TotalUsers:       totalUsers,
		PremiumUsers:     premiumUsers,
		TotalGenerations: totalGenerations,
		TodayGenerations: todayGenerations,
	}, nil
}
