package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/statistics"
)

// HandleIndex is the API root.
func HandleIndex(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"name": "snippetstream", "status": "ok"})
}

// HandleHealthz answers liveness probes; it pings the database so the
// check fails when the app is up but useless.
func HandleHealthz(c *fiber.Ctx) error {
	sqlDB, err := database.GetDB().DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		log.Errorf("[Health] database ping: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandlePublicStats serves the cached landing page counters.
func HandlePublicStats(c *fiber.Ctx) error {
	stats, err := statistics.GetStatistics()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Statistics unavailable"})
	}
	return c.JSON(fiber.Map{
		"total_users":       stats.TotalUsers,
		"premium_users":     stats.PremiumUsers,
		"total_generations": stats.TotalGenerations,
		"today_generations": stats.TodayGenerations,
	})
}
