package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/payments"
	"github.com/snippetstream/snippetstream/internal/pkg/session"
	"github.com/snippetstream/snippetstream/internal/pkg/usercontext"
)

// Session keys shared with the middlewares.
const (
	AUTH_KEY      string = usercontext.AuthKey
	USER_ID       string = usercontext.KeyUserID
	USER_NAME     string = usercontext.KeyUsername
	USER_IS_ADMIN string = usercontext.KeyIsAdmin
	USER_PREMIUM  string = usercontext.KeyIsPremium
)

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// loginSession writes the authenticated user into the app session.
func loginSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}

	sess.Set(AUTH_KEY, true)
	sess.Set(USER_ID, user.ID)
	sess.Set(USER_NAME, user.Name)
	sess.Set(USER_IS_ADMIN, user.Role == models.ROLE_ADMIN)
	premium := "0"
	if user.IsPremium {
		premium = "1"
	}
	sess.Set(USER_PREMIUM, premium)

	return sess.Save()
}

// invalidatePremiumSession drops the cached premium flag so the next
// request re-reads it from the database.
func invalidatePremiumSession(c *fiber.Ctx) {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return
	}
	sess.Delete(USER_PREMIUM)
	_ = sess.Save()
}

// Request-scoped billing components, built on the shared DB handle.

func paymentsRepo() payments.Repository {
	return payments.NewRepository(database.GetDB())
}

func subscriptionManager() *payments.Manager {
	return payments.NewManager(paymentsRepo())
}

func webhookReconciler() *payments.Reconciler {
	return payments.NewReconciler(paymentsRepo())
}
