package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jkubiena/Weddinko/app/controllers"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Provider-facing webhook endpoints. No rate limiting here; providers
	// punish slow or rejected deliveries with retry storms.
	app.Post("/webhooks/card-provider", controllers.HandleCardProviderWebhook)
	app.Get("/webhooks/redirect-provider", controllers.HandleRedirectProviderWebhook)

	// Referral landing links
	app.Get("/ref/:code", controllers.HandleReferralClick)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
