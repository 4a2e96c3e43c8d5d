package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/snippetstream/snippetstream/internal/pkg/payments"
	"github.com/snippetstream/snippetstream/internal/pkg/usercontext"
)

// RequirePremium gates a route on a live entitlement check. Unlike the
// session-cached premium flag this asks the subscription manager, so a
// subscription that lapsed mid-session is caught here.
func RequirePremium(subs *payments.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := usercontext.GetUserID(c)
		if userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "login required",
			})
		}

		entitled, err := subs.CheckUserSubscriptionStatus(userID)
		if err != nil {
			log.Errorf("[Middleware] entitlement check for user %d: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "entitlement check failed",
			})
		}
		if !entitled {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "premium_required",
				"message": "this feature requires an active subscription",
			})
		}
		return c.Next()
	}
}
