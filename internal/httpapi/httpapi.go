// Package httpapi wires the ingest surface (internal/ingest), the worker's
// live counters, the degradation manager, the advisory store, and the
// retention/backup component onto echo routes, following the teacher's
// cli/root.go + api package split: a thin Handlers struct holding every
// collaborator, one route-registration function, and one method per
// endpoint.
package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/authn"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/ingest"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/retention"
	"eve.evalgo.org/memoryengine/internal/settingsstore"
	"eve.evalgo.org/memoryengine/internal/worker"
)

// Handlers bundles every collaborator an HTTP route touches.
type Handlers struct {
	Log        *logrus.Logger
	Ingest     *ingest.Service
	Worker     *worker.Worker
	Degrade    *degradation.Manager
	Advisory   *advisory.Store
	Retention  *retention.Service
	Settings   *settingsstore.Store
	Router     *modelclient.Router
	Model      *modelclient.Client
	IngestGate *authn.Gate
}

// Register mounts every route from spec.md §4.10/§7 onto e.
func Register(e *echo.Echo, h *Handlers) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/api/health", h.Health)
	e.GET("/metrics", h.Metrics)
	e.GET("/api/stats", h.Stats)
	e.GET("/api/worker", h.WorkerStatus)
	e.GET("/api/summary", h.Summary)
	e.GET("/api/degradation", h.DegradationStatus)

	e.GET("/api/nudges", h.ListNudges)
	e.POST("/api/nudges/dismiss", h.DismissNudge)
	e.GET("/api/anomalies", h.ListAnomalies)
	e.POST("/api/anomalies/dismiss", h.DismissAnomaly)

	e.GET("/api/settings", h.GetSettings)
	e.POST("/api/settings", h.PutSettings)
	e.POST("/api/settings/test-llm", h.TestLLM)

	e.GET("/api/retention", h.RetentionStatus)
	e.POST("/api/retention/run", h.RunRetention)
	e.POST("/api/backup/create", h.CreateBackup)
	e.GET("/api/backup/list", h.ListBackups)
	e.POST("/api/backup/restore", h.RestoreBackup)

	ingestGroup := e.Group("/api/ingest")
	if h.IngestGate != nil {
		ingestGroup.Use(h.IngestGate.Middleware())
	}
	ingestGroup.POST("", h.Ingest_)
	ingestGroup.POST("/raw", h.IngestRaw)

	e.POST("/api/load", h.Load)
	e.POST("/api/save", h.Save)
	e.POST("/api/checkpoint", h.Checkpoint)
	e.POST("/api/search", h.Search)
	e.POST("/api/correct", h.Correct)
}

// Health is a liveness probe: 200 as long as the process is up, regardless
// of degradation level (spec.md §7).
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics is a minimal Prometheus-less metrics surface: plain JSON counters,
// since spec.md's Non-goals exclude a full metrics pipeline but still expect
// a /metrics operators can poll.
func (h *Handlers) Metrics(c echo.Context) error {
	stats := h.Worker.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{
		"processed":   stats.Processed,
		"failed":      stats.Failed,
		"skipped":     stats.Skipped,
		"queue_depth": stats.QueueDepth,
	})
}

// Stats mirrors Metrics under the JSON API naming convention the rest of
// /api/* uses.
func (h *Handlers) Stats(c echo.Context) error {
	return h.Metrics(c)
}

// WorkerStatus reports the worker's live pipeline counters.
func (h *Handlers) WorkerStatus(c echo.Context) error {
	stats := h.Worker.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, stats)
}

// Summary is a combined operator dashboard payload: worker stats, the
// derived degradation level, and active nudge/anomaly counts in one round
// trip (spec.md §7's cockpit summary view).
func (h *Handlers) Summary(c echo.Context) error {
	ctx := c.Request().Context()
	stats := h.Worker.Stats(ctx)
	nudges, _ := h.Advisory.ActiveNudges()
	anomalies, _ := h.Advisory.ActiveAnomalies()
	return c.JSON(http.StatusOK, map[string]any{
		"worker":          stats,
		"level":           h.Degrade.Level(),
		"nudge_count":     len(nudges),
		"anomaly_count":   len(anomalies),
		"generated_at":    time.Now().UTC(),
	})
}

// DegradationStatus reports per-dependency circuit-breaker state and the
// overall derived level.
func (h *Handlers) DegradationStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"dependencies": h.Degrade.Status(),
		"level":        h.Degrade.Level(),
	})
}
