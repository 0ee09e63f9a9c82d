// Package settingsapi exposes the settings engine over JSON endpoints.
// Requester identity arrives in headers; authentication is handled by
// the proxy in front, not here.
package settingsapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	historyctl "github.com/lotkeeper/lotkeeper/internal/db/controller/history"
	templatectl "github.com/lotkeeper/lotkeeper/internal/db/controller/template"
	"github.com/lotkeeper/lotkeeper/internal/settings"
	"github.com/lotkeeper/lotkeeper/internal/settings/scope"
	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

const (
	headerLocation = "X-Location-Id"
	headerUser     = "X-User-Id"
	headerActor    = "X-Actor"

	defaultHistoryLimit = 50
)

// Handler carries the dependencies of the settings endpoints.
type Handler struct {
	db  *gorm.DB
	svc *settings.Service
}

// Register mounts the settings endpoints on a router group.
func Register(router fiber.Router, db *gorm.DB, svc *settings.Service) {
	h := &Handler{db: db, svc: svc}

	router.Get("/settings/:category", h.getCategory)
	router.Put("/settings/:category", h.putCategory)
	router.Get("/settings/:category/:key", h.getSetting)
	router.Put("/settings/:category/:key", h.putSetting)
	router.Delete("/settings/:category/:key", h.resetSetting)
	router.Get("/settings/:category/:key/history", h.getHistory)
	router.Post("/templates/:name/apply", h.applyTemplate)
}

func requester(c *fiber.Ctx) scope.Ref {
	return scope.Ref{
		LocationID: c.Get(headerLocation),
		UserID:     c.Get(headerUser),
	}
}

func actor(c *fiber.Ctx) string {
	if a := c.Get(headerActor); a != "" {
		return a
	}

	return "api"
}

func writeError(c *fiber.Ctx, err error) error {
	if ve, ok := settings.AsValidationError(err); ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": ve.Errors,
		})
	}

	switch {
	case errors.Is(err, settings.ErrSettingNotFound),
		errors.Is(err, templatectl.ErrTemplateNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, settings.ErrScopeNotAllowed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	var se *settings.StoreError
	if errors.As(err, &se) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "backing store unavailable"})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func (h *Handler) getSetting(c *fiber.Ctx) error {
	v, satisfiedBy, err := h.svc.GetSetting(c.Context(), c.Params("category"), c.Params("key"), requester(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"value": value.Native(v),
		"scope": satisfiedBy,
	})
}

func (h *Handler) getCategory(c *fiber.Ctx) error {
	values, err := h.svc.GetCategorySettings(c.Context(), c.Params("category"), requester(c))
	if err != nil {
		return writeError(c, err)
	}

	out := make(map[string]any, len(values))
	for key, v := range values {
		out[key] = value.Native(v)
	}

	return c.JSON(out)
}

type putSettingRequest struct {
	Value any    `json:"value"`
	Scope string `json:"scope"`
}

func (h *Handler) putSetting(c *fiber.Ctx) error {
	var req putSettingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}

	v, err := value.FromNative(req.Value)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported value shape"})
	}

	at := scope.Scope(req.Scope)
	if req.Scope == "" {
		at = scope.System
	}

	if err := h.svc.UpdateSetting(c.Context(), c.Params("category"), c.Params("key"), v, at, requester(c), actor(c)); err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

type putCategoryRequest struct {
	Values map[string]any `json:"values"`
	Scope  string         `json:"scope"`
}

func batchResponse(c *fiber.Ctx, result settings.BatchResult) error {
	failed := make(map[string]string, len(result.Failed))
	for key, err := range result.Failed {
		failed[key] = err.Error()
	}

	status := fiber.StatusOK
	if len(result.Failed) > 0 {
		status = fiber.StatusMultiStatus
	}

	return c.Status(status).JSON(fiber.Map{
		"applied": result.Applied,
		"failed":  failed,
	})
}

func (h *Handler) putCategory(c *fiber.Ctx) error {
	var req putCategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed request body"})
	}

	values := make(map[string]value.Value, len(req.Values))
	for key, raw := range req.Values {
		v, err := value.FromNative(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported value shape for " + key})
		}
		values[key] = v
	}

	at := scope.Scope(req.Scope)
	if req.Scope == "" {
		at = scope.System
	}

	result := h.svc.UpdateCategorySettings(c.Context(), c.Params("category"), values, at, requester(c), actor(c))

	return batchResponse(c, result)
}

func (h *Handler) resetSetting(c *fiber.Ctx) error {
	at := scope.Scope(c.Query("scope", string(scope.System)))

	err := h.svc.ResetToDefault(c.Context(), c.Params("category"), c.Params("key"), at, requester(c), actor(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handler) getHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)

	entries, err := historyctl.ForKey(c.Context(), h.db, c.Params("category"), c.Params("key"), limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(entries)
}

func (h *Handler) applyTemplate(c *fiber.Ctx) error {
	at := scope.Scope(c.Query("scope", string(scope.Location)))

	result, err := h.svc.ApplyTemplate(c.Context(), c.Params("name"), at, requester(c), actor(c))
	if err != nil {
		return writeError(c, err)
	}

	return batchResponse(c, result)
}
