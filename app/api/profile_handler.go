package api

import (
	"mercurial/store"
	"mercurial/types"

	"github.com/gofiber/fiber/v2"
)

type ProfileHandler struct {
	store store.DBStorer
}

func NewProfileHandler(s store.DBStorer) *ProfileHandler {
	return &ProfileHandler{store: s}
}

func (h *ProfileHandler) HandleGetProfile(c *fiber.Ctx) error {
	profile, err := h.store.GetProfile(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(profile)
}

func (h *ProfileHandler) HandleSetProfile(c *fiber.Ctx) error {
	var params types.ProfileParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if err := h.store.SetProfile(c.Context(), params.Memory); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *ProfileHandler) HandleGetPrefs(c *fiber.Ctx) error {
	prefs, err := h.store.GetPrefs(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(prefs)
}

func (h *ProfileHandler) HandleSetPrefs(c *fiber.Ctx) error {
	var params types.PrefsParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	if params.Language == "" {
		params.Language = "zh"
	}
	err := h.store.SetPrefs(c.Context(), types.UserPrefs{
		Language:   params.Language,
		Tone:       params.Tone,
		FormatHint: params.FormatHint,
		CiteStyle:  params.CiteStyle,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}
