package httpapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"eve.evalgo.org/memoryengine/internal/ingest"
)

// Ingest_ is the structured external webhook adapter (spec.md §4.10's
// ingest(payload)). Named with a trailing underscore to avoid shadowing the
// Handlers.Ingest field.
func (h *Handlers) Ingest_(c echo.Context) error {
	var payload ingest.IngestPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	resp, err := h.Ingest.Ingest(c.Request().Context(), payload)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// IngestRaw is the raw-text external webhook adapter (spec.md §4.10's
// ingest_raw(text)).
func (h *Handlers) IngestRaw(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	resp, err := h.Ingest.IngestRaw(c.Request().Context(), string(raw))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Load handles POST /api/load (spec.md §4.10's load operation).
func (h *Handlers) Load(c echo.Context) error {
	var req struct {
		Topic string `json:"topic"`
	}
	_ = c.Bind(&req)
	resp, err := h.Ingest.Load(c.Request().Context(), req.Topic)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Save handles POST /api/save (spec.md §4.10's save operation).
func (h *Handlers) Save(c echo.Context) error {
	var req ingest.SaveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	resp, err := h.Ingest.Save(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Checkpoint handles POST /api/checkpoint (spec.md §4.10's checkpoint
// operation).
func (h *Handlers) Checkpoint(c echo.Context) error {
	var req ingest.CheckpointRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	resp, err := h.Ingest.Checkpoint(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Search handles POST /api/search (spec.md §4.10's search operation).
func (h *Handlers) Search(c echo.Context) error {
	var req ingest.SearchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	resp, err := h.Ingest.Search(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

// Correct handles POST /api/correct (spec.md §4.10's correct
// operation).
func (h *Handlers) Correct(c echo.Context) error {
	var req ingest.CorrectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	resp, err := h.Ingest.Correct(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}
