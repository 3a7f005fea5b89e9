package httpapi

import (
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// RetentionStatus reports a dry-run sweep: how many documents per collection
// would be pruned under current settings, without deleting anything.
func (h *Handlers) RetentionStatus(c echo.Context) error {
	counts, err := h.Retention.Sweep(c.Request().Context(), nil, true)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

type runRetentionRequest struct {
	Overrides map[string]int `json:"overrides,omitempty"`
	DryRun    bool           `json:"dry_run"`
}

// RunRetention runs a live (or operator-requested dry-run) sweep on demand,
// outside the worker's every-24h idle trigger.
func (h *Handlers) RunRetention(c echo.Context) error {
	var req runRetentionRequest
	_ = c.Bind(&req)
	counts, err := h.Retention.Sweep(c.Request().Context(), req.Overrides, req.DryRun)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

// CreateBackup triggers an on-demand backup outside the worker's idle cycle.
func (h *Handlers) CreateBackup(c echo.Context) error {
	if err := h.Retention.RunBackup(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "backup created"})
}

type restoreBackupRequest struct {
	Name string `json:"name"`
}

// RestoreBackup re-upserts every collection dump in the named local backup
// directory back into the archive.
func (h *Handlers) RestoreBackup(c echo.Context) error {
	var req restoreBackupRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	counts, err := h.Retention.RestoreBackup(c.Request().Context(), req.Name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

// ListBackups lists the local backup directories, newest first.
func (h *Handlers) ListBackups(c echo.Context) error {
	entries, err := os.ReadDir(h.Retention.BackupDir)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	names := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsDir() {
			names = append(names, entries[i].Name())
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"backups": names})
}
