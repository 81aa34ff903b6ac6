package engine

import (
	"github.com/gofiber/fiber/v2"

	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

// Handler maps the generic HTTP surface onto the engine. It stays thin:
// permission checks, validation and SQL all live behind the engine.
type Handler struct {
	engine   *Engine
	registry *meta.Registry
	migrator *store.Migrator
}

func NewHandler(e *Engine, reg *meta.Registry, m *store.Migrator) *Handler {
	return &Handler{engine: e, registry: reg, migrator: m}
}

// ListMeta handles GET /meta.
func (h *Handler) ListMeta(c *fiber.Ctx) error {
	doctypes := h.registry.All()
	names := make([]string, 0, len(doctypes))
	for _, d := range doctypes {
		names = append(names, d.Name)
	}
	return c.JSON(fiber.Map{"data": names})
}

// GetMeta handles GET /meta/:doctype.
func (h *Handler) GetMeta(c *fiber.Ctx) error {
	name := c.Params("doctype")
	dt := h.registry.Get(name)
	if dt == nil {
		return UnknownDocTypeError(name)
	}
	return c.JSON(fiber.Map{"data": dt})
}

// SyncMeta handles POST /meta: submit a DocType definition for schema sync.
func (h *Handler) SyncMeta(c *fiber.Ctx) error {
	var def meta.DocType
	if err := c.BodyParser(&def); err != nil {
		return BadRequestError("Invalid DocType definition")
	}
	if def.Name == "" {
		return BadRequestError("DocType name is required")
	}

	if err := h.migrator.SyncDocType(c.Context(), &def); err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": h.registry.Get(def.Name)})
}

// Create handles POST /:doctype.
func (h *Handler) Create(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return BadRequestError("Invalid JSON body")
	}

	doc, err := h.engine.Create(c.Context(), c.Params("doctype"), body, getUser(c))
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": doc})
}

// List handles GET /:doctype.
func (h *Handler) List(c *fiber.Ctx) error {
	docs, err := h.engine.List(c.Context(), c.Params("doctype"), getUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": docs})
}

// Get handles GET /:doctype/:name.
func (h *Handler) Get(c *fiber.Ctx) error {
	doc, err := h.engine.Get(c.Context(), c.Params("doctype"), c.Params("name"), getUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": doc})
}

// Update handles PUT /:doctype/:name.
func (h *Handler) Update(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return BadRequestError("Invalid JSON body")
	}

	doc, err := h.engine.Update(c.Context(), c.Params("doctype"), c.Params("name"), body, getUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": doc})
}

// Delete handles DELETE /:doctype/:name.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.engine.Delete(c.Context(), c.Params("doctype"), c.Params("name"), getUser(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": c.Params("name")}})
}

// Submit handles POST /:doctype/:name/submit.
func (h *Handler) Submit(c *fiber.Ctx) error {
	doc, err := h.engine.Submit(c.Context(), c.Params("doctype"), c.Params("name"), getUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": doc})
}

// Cancel handles POST /:doctype/:name/cancel.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	doc, err := h.engine.Cancel(c.Context(), c.Params("doctype"), c.Params("name"), getUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": doc})
}

func getUser(c *fiber.Ctx) *meta.UserContext {
	user, _ := c.Locals("user").(*meta.UserContext)
	return user
}
