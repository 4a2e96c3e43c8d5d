package router

import (
	"github.com/snippetstream/snippetstream/app/controllers"
	"github.com/snippetstream/snippetstream/internal/pkg/constants"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/middleware"
	"github.com/snippetstream/snippetstream/internal/pkg/payments"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		// Webhook deliveries burst on renewal days; do not throttle
		// the provider.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == constants.WebhookRoute
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Post("/auth/logout", controllers.HandleLogout)
	v1.Get("/stats", controllers.HandlePublicStats)

	// Provider webhook: authenticated by signature, not session
	v1.Post("/payments/webhook", controllers.HandleDodoWebhook)

	// Session-authenticated
	authed := v1.Group("", middleware.RequireAPISessionAuth)
	authed.Get("/me", controllers.HandleMe)

	authed.Post("/payments/checkout", controllers.HandleCreateCheckout)
	authed.Get("/payments/status", controllers.HandlePaymentStatus)
	authed.Post("/payments/cancel", controllers.HandleCancelSubscription)
	authed.Get("/payments/history", controllers.HandlePaymentHistory)

	authed.Post("/content/generate", controllers.HandleGenerate)
	authed.Get("/content/generations", controllers.HandleListGenerations)
	authed.Post("/content/generations/:id/share", controllers.HandleShareGeneration)

	subs := payments.NewManager(payments.NewRepository(database.GetDB()))
	authed.Get("/content/generations/:id/export",
		middleware.RequirePremium(subs),
		controllers.HandleExportGeneration)

	// Operational endpoints for monitoring and manual intervention
	internal := v1.Group("/admin", middleware.RequireInternalAPIKey())
	internal.Post("/subscriptions/check-expirations", controllers.HandleAdminCheckExpirations)
	internal.Get("/subscriptions/health", controllers.HandleAdminSubscriptionHealth)
	internal.Get("/payments/stats", controllers.HandleAdminPaymentStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
