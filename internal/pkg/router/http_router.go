package router

import (
	"github.com/snippetstream/snippetstream/app/controllers"
	"github.com/snippetstream/snippetstream/internal/pkg/constants"
	"github.com/snippetstream/snippetstream/internal/pkg/middleware"
	"github.com/snippetstream/snippetstream/internal/pkg/oauth"
	"github.com/snippetstream/snippetstream/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	app.Get("/", controllers.HandleIndex)
	app.Get("/healthz", controllers.HandleHealthz)
	app.Get("/activate", controllers.HandleActivate)

	// Public share links for generated snippets
	app.Get(constants.ShareRoute+"/:slug", controllers.HandleSharedGeneration)

	// OAuth flow (session handling is Goth's on these routes)
	app.Get("/auth/:provider", controllers.HandleOAuthLogin)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)
	app.Get("/auth/logout", controllers.HandleOAuthLogout)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
