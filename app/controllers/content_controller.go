package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/snippetstream/snippetstream/app/models"
	"github.com/snippetstream/snippetstream/app/repository"
	"github.com/snippetstream/snippetstream/internal/pkg/database"
	"github.com/snippetstream/snippetstream/internal/pkg/env"
	"github.com/snippetstream/snippetstream/internal/pkg/featuregate"
	"github.com/snippetstream/snippetstream/internal/pkg/generator"
	"github.com/snippetstream/snippetstream/internal/pkg/metrics/counter"
	"github.com/snippetstream/snippetstream/internal/pkg/shortener"
	"github.com/snippetstream/snippetstream/internal/pkg/usercontext"
)

// contentGenerator is swappable in tests.
var contentGenerator generator.Generator

func getGenerator() generator.Generator {
	if contentGenerator == nil {
		contentGenerator = generator.NewHTTPGeneratorFromEnv()
	}
	return contentGenerator
}

type generateRequest struct {
	Content   string   `json:"content"`
	Source    string   `json:"source"`
	URL       string   `json:"url"`
	Platforms []string `json:"platforms"`
}

// HandleGenerate runs one repurposing pass for the logged-in user,
// enforcing plan limits before any upstream work happens.
func HandleGenerate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	source := req.Source
	if source == "" {
		source = models.ContentSourceText
	}
	if source != models.ContentSourceText && source != models.ContentSourceURL {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown content source"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	// The stored premium flag can go stale between sweeps, so ask the
	// subscription manager before picking the plan limits.
	entitled, err := subscriptionManager().CheckUserSubscriptionStatus(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to check subscription"})
	}
	user.IsPremium = entitled

	gate := featuregate.New(database.GetDB())
	if err := gate.CheckGeneration(user, source, 1); err != nil {
		return gateError(c, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	content := strings.TrimSpace(req.Content)
	if source == models.ContentSourceURL {
		extracted, err := generator.ExtractArticleText(ctx, nil, strings.TrimSpace(req.URL))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": fmt.Sprintf("URL extraction failed: %v", err)})
		}
		content = extracted
	}
	if content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Content is required"})
	}

	start := time.Now()
	out, err := getGenerator().Generate(ctx, content, req.Platforms)
	if err != nil {
		log.Errorf("[Content] generation for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": "Generation failed"})
	}
	elapsed := time.Since(start).Seconds()

	gen := models.ContentGeneration{
		UserID:            user.ID,
		OriginalContent:   content,
		ContentSource:     source,
		TwitterThread:     out.TwitterThread,
		LinkedinPost:      out.LinkedinPost,
		InstagramCarousel: out.InstagramCarousel,
		ProcessingTime:    elapsed,
	}
	if err := repository.GetGlobalFactory().GetContentGenerationRepository().Create(&gen); err != nil {
		log.Errorf("[Content] saving generation for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save generation"})
	}

	if err := gate.RecordUsage(user.ID, models.UsageActionGenerate, ""); err != nil {
		log.Errorf("[Content] recording usage for user %d: %v", user.ID, err)
	}

	remaining, _ := gate.RemainingGenerations(user)

	return c.JSON(fiber.Map{
		"id":                    gen.ID,
		"twitter_thread":        out.TwitterThread,
		"linkedin_post":         out.LinkedinPost,
		"instagram_carousel":    out.InstagramCarousel,
		"processing_time":       elapsed,
		"remaining_generations": remaining,
	})
}

// HandleListGenerations returns the user's recent generations.
func HandleListGenerations(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := repository.GetGlobalFactory().GetContentGenerationRepository().GetByUserID(userCtx.UserID, 0, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load generations"})
	}

	out := make([]fiber.Map, 0, len(rows))
	for _, g := range rows {
		entry := fiber.Map{
			"id":                 g.ID,
			"content_source":     g.ContentSource,
			"twitter_thread":     g.TwitterThread,
			"linkedin_post":      g.LinkedinPost,
			"instagram_carousel": g.InstagramCarousel,
			"created_at":         g.CreatedAt.UTC().Format(time.RFC3339),
		}
		if g.ShareSlug != "" {
			entry["share_slug"] = g.ShareSlug
		}
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"generations": out})
}

// HandleExportGeneration downloads one generation as a text file.
// File export is a paid feature; free users copy from the UI instead.
func HandleExportGeneration(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}
	if !featuregate.CanExport(user) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "premium_required", "message": "File export requires a pro plan"})
	}

	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid generation id"})
	}

	gen, err := repository.GetGlobalFactory().GetContentGenerationRepository().GetByID(uint(id))
	if err != nil || gen.UserID != user.ID {
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Generation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load generation"})
	}

	gate := featuregate.New(database.GetDB())
	if err := gate.RecordUsage(user.ID, models.UsageActionExport, c.Query("platform")); err != nil {
		log.Errorf("[Content] recording export for user %d: %v", user.ID, err)
	}
	if err := counter.AddGenerationExport(gen.ID); err != nil {
		log.Errorf("[Content] export counter for generation %d: %v", gen.ID, err)
	}

	body := fmt.Sprintf("TWITTER THREAD\n\n%s\n\nLINKEDIN POST\n\n%s\n\nINSTAGRAM CAROUSEL\n\n%s\n",
		gen.TwitterThread, gen.LinkedinPost, gen.InstagramCarousel)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"snippetstream-%d.txt\"", gen.ID))
	return c.SendString(body)
}

// HandleShareGeneration creates (or returns) a public share link for one
// of the user's generations.
func HandleShareGeneration(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid generation id"})
	}

	genRepo := repository.GetGlobalFactory().GetContentGenerationRepository()
	gen, err := genRepo.GetByID(uint(id))
	if err != nil || gen.UserID != userCtx.UserID {
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Generation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load generation"})
	}

	if gen.ShareSlug == "" {
		for attempt := 0; attempt < 3; attempt++ {
			slug, err := shortener.GenerateSecureSlug(10)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create share link"})
			}
			taken, err := genRepo.ShareSlugExists(slug)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create share link"})
			}
			if taken {
				continue
			}
			gen.ShareSlug = slug
			break
		}
		if gen.ShareSlug == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create share link"})
		}
		if err := genRepo.Update(gen); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save share link"})
		}
	}

	return c.JSON(fiber.Map{
		"share_slug": gen.ShareSlug,
		"share_url":  env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000") + "/s/" + gen.ShareSlug,
	})
}

// HandleSharedGeneration serves a shared generation by its public slug.
// No login required.
func HandleSharedGeneration(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing share slug"})
	}

	gen, err := repository.GetGlobalFactory().GetContentGenerationRepository().GetByShareSlug(slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Shared generation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load shared generation"})
	}

	if err := counter.AddGenerationView(gen.ID); err != nil {
		log.Errorf("[Content] view counter for generation %d: %v", gen.ID, err)
	}

	return c.JSON(fiber.Map{
		"twitter_thread":     gen.TwitterThread,
		"linkedin_post":      gen.LinkedinPost,
		"instagram_carousel": gen.InstagramCarousel,
		"created_at":         gen.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func gateError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, featuregate.ErrQuotaExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "quota_exceeded", "message": err.Error()})
	case errors.Is(err, featuregate.ErrSourceNotAllowed), errors.Is(err, featuregate.ErrBatchTooLarge):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "premium_required", "message": err.Error()})
	default:
		log.Errorf("[Content] feature gate: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Plan check failed"})
	}
}
