package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/statistics"
)

// HandleAdminCheckExpirations triggers the expiration sweep outside
// its schedule. Used by operators after incidents and by monitoring.
func HandleAdminCheckExpirations(c *fiber.Ctx) error {
	expired, err := subscriptionManager().CheckExpiredSubscriptions()
	if err != nil {
		log.Errorf("[Admin] manual expiration sweep: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Sweep failed"})
	}
	return c.JSON(fiber.Map{"status": "ok", "expired": expired})
}

// HandleAdminSubscriptionHealth serves the subscription counters.
func HandleAdminSubscriptionHealth(c *fiber.Ctx) error {
	health, err := subscriptionManager().CheckHealth()
	if err != nil {
		log.Errorf("[Admin] subscription health: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Health check failed"})
	}
	return c.JSON(health)
}

// HandleAdminPaymentStats aggregates payment rows by status plus the
// cached product counters.
func HandleAdminPaymentStats(c *fiber.Ctx) error {
	db := database.GetDB()

	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := db.Model(&models.PaymentHistory{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to aggregate payments"})
	}

	byStatus := fiber.Map{}
	for _, r := range rows {
		byStatus[r.Status] = r.Count
	}

	stats, err := statistics.GetStatistics()
	if err != nil {
		log.Errorf("[Admin] loading statistics: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load statistics"})
	}

	return c.JSON(fiber.Map{
		"payments_by_status": byStatus,
		"total_users":        stats.TotalUsers,
		"premium_users":      stats.PremiumUsers,
		"total_generations":  stats.TotalGenerations,
		"today_generations":  stats.TodayGenerations,
	})
}
