package engine

import (
	"github.com/gofiber/fiber/v2"

	"tablegate/internal/config"
)

// RegisterRoutes mounts the dynamic entity routes under the configured REST
// base path. With REST disabled globally, every path under the base answers
// with the disabled error instead of 404-ing route by route.
func RegisterRoutes(app *fiber.App, cfg *config.Config, h *Handler) {
	base := cfg.Runtime.Rest.BasePath()

	if !cfg.Runtime.Rest.On() {
		app.All(base, restDisabled)
		app.All(base+"/*", restDisabled)
		return
	}

	api := app.Group(base)
	api.Get("/:entity", h.List)
	api.Post("/:entity", h.Create)
	api.Get("/:entity/:pk/:value", h.GetByPK)
	api.Put("/:entity/:pk/:value", h.Update)
	api.Patch("/:entity/:pk/:value", h.Patch)
	api.Delete("/:entity/:pk/:value", h.Delete)
}

func restDisabled(c *fiber.Ctx) error {
	return RestDisabledError()
}
