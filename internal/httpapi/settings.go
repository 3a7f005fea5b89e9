package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"eve.evalgo.org/memoryengine/internal/settingsstore"
)

// GetSettings returns the current operator-adjustable settings.
func (h *Handlers) GetSettings(c echo.Context) error {
	settings, err := h.Settings.Read()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, settings)
}

// PutSettings persists new settings and hot-patches the live model router so
// fast/smart model changes take effect without a restart (SPEC_FULL.md §7).
func (h *Handlers) PutSettings(c echo.Context) error {
	var settings settingsstore.Settings
	if err := c.Bind(&settings); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if err := h.Settings.Write(settings); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if h.Router != nil {
		if settings.FastModel != "" {
			h.Router.FastModel = settings.FastModel
			h.Router.Escalation[settings.FastModel] = settings.SmartModel
		}
		if settings.SmartModel != "" {
			h.Router.SmartModel = settings.SmartModel
		}
	}
	return c.JSON(http.StatusOK, settings)
}

// TestLLM exercises the configured model provider with a trivial extraction
// call and reports whether it succeeded.
func (h *Handlers) TestLLM(c echo.Context) error {
	_, err := h.Model.ExtractFields(c.Request().Context(), "connectivity check", false)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
