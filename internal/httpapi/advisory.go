package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListNudges returns active, non-dismissed nudges.
func (h *Handlers) ListNudges(c echo.Context) error {
	nudges, err := h.Advisory.ActiveNudges()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, nudges)
}

type dismissRequest struct {
	Match string `json:"match"`
}

// DismissNudge marks every nudge whose message contains the given substring
// as dismissed.
func (h *Handlers) DismissNudge(c echo.Context) error {
	var req dismissRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	n, err := h.Advisory.DismissNudge(req.Match)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"dismissed": n})
}

// ListAnomalies returns active, non-dismissed anomalies.
func (h *Handlers) ListAnomalies(c echo.Context) error {
	anomalies, err := h.Advisory.ActiveAnomalies()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, anomalies)
}

// DismissAnomaly marks every anomaly whose description contains the given
// substring as dismissed.
func (h *Handlers) DismissAnomaly(c echo.Context) error {
	var req dismissRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	n, err := h.Advisory.DismissAnomaly(req.Match)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"dismissed": n})
}
