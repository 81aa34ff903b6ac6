package engine

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"anvil-backend/internal/meta"
)

// RegisterRoutes mounts the meta and document routes. The document routes are
// registered last: `/:doctype` is a catch-all.
func RegisterRoutes(app *fiber.App, h *Handler, authMW, adminMW fiber.Handler) {
	grp := app.Group("/meta", authMW)
	grp.Get("/", h.ListMeta)
	grp.Get("/:doctype", h.GetMeta)
	grp.Post("/", adminMW, h.SyncMeta)

	app.Post("/:doctype", authMW, h.Create)
	app.Get("/:doctype", authMW, h.List)
	app.Get("/:doctype/:name", authMW, h.Get)
	app.Put("/:doctype/:name", authMW, h.Update)
	app.Delete("/:doctype/:name", authMW, h.Delete)
	app.Post("/:doctype/:name/submit", authMW, h.Submit)
	app.Post("/:doctype/:name/cancel", authMW, h.Cancel)
}

// ErrorHandler is the app-level Fiber error handler: AppErrors map to their
// status and JSON shape, identifier violations map to 422, everything else is
// a logged 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}

	if errors.Is(err, meta.ErrBadIdentifier) {
		return c.Status(422).JSON(ErrorResponse{Error: &AppError{
			Code:    "VALIDATION_FAILED",
			Status:  422,
			Message: err.Error(),
		}})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{Error: &AppError{
			Code:    "INTERNAL",
			Status:  fiberErr.Code,
			Message: fiberErr.Message,
		}})
	}

	log.WithError(err).Error("unhandled request error")
	return c.Status(500).JSON(ErrorResponse{Error: &AppError{
		Code:    "INTERNAL",
		Status:  500,
		Message: "Internal server error",
	}})
}
