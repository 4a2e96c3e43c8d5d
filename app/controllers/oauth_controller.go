package controllers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/app/repository"
	"github.com/snippetstream/snippetstream/internal/pkg/constants"
)

// HandleOAuthLogin starts the provider flow.
func HandleOAuthLogin(c *fiber.Ctx) error {
	return gothfiber.BeginAuthHandler(c)
}

// HandleOAuthCallback completes the provider flow and logs the user in
func HandleOAuthCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString(fmt.Sprintf("OAuth failed: %v", err))
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()

	appUser, err := userRepo.GetByGoogleID(u.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Match on email so an existing local account gets linked
		// instead of duplicated.
		appUser = nil
		if u.Email != "" {
			if existing, lookupErr := userRepo.GetByEmail(u.Email); lookupErr == nil {
				appUser = existing
			}
		}
		if appUser == nil {
			email := u.Email
			if email == "" {
				// Ensure unique, non-empty email to satisfy unique index semantics in MySQL
				email = fmt.Sprintf("%s_%s@%s.oauth.local", u.Provider, u.UserID, u.Provider)
			}
			appUser = &models.User{
				Name:         firstNonEmpty(u.Name, u.NickName, u.Email, "User"),
				Email:        email,
				Role:         models.ROLE_USER,
				Status:       models.STATUS_ACTIVE,
				AuthProvider: models.AuthProviderGoogle,
				GoogleID:     u.UserID,
				AvatarURL:    u.AvatarURL,
			}
			if err := userRepo.Create(appUser); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("create user failed: %v", err))
			}
		} else {
			appUser.GoogleID = u.UserID
			if appUser.AvatarURL == "" {
				appUser.AvatarURL = u.AvatarURL
			}
			if err := userRepo.Update(appUser); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("link provider failed: %v", err))
			}
		}
	} else if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("OAuth lookup failed")
	}

	if appUser.Status == models.STATUS_DISABLED {
		return c.Status(fiber.StatusForbidden).SendString("Account disabled")
	}

	now := time.Now()
	appUser.LastLoginAt = &now
	_ = userRepo.Update(appUser)

	if err := loginSession(c, appUser); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Session error")
	}

	return c.Redirect(constants.PublicRoute, fiber.StatusSeeOther)
}

// HandleOAuthLogout ends the provider session and the app session.
func HandleOAuthLogout(c *fiber.Ctx) error {
	_ = gothfiber.Logout(c)
	return HandleLogout(c)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
