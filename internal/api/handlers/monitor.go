package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/streamcore/internal/health"
)

type Sweeper interface {
	RunSweep(ctx context.Context) (*health.SweepReport, error)
	LastReport() *health.SweepReport
}

type ReportArchive interface {
	LatestReport(ctx context.Context) ([]byte, string, error)
}

type MonitorHandler struct {
	sweeper Sweeper
	reports ReportArchive
}

// NewMonitorHandler exposes manual sweeps and reports. reports may be nil.
func NewMonitorHandler(sweeper Sweeper, reports ReportArchive) *MonitorHandler {
	return &MonitorHandler{sweeper: sweeper, reports: reports}
}

// Sweep handles POST /v1/monitor/sweep and runs one sweep synchronously.
func (h *MonitorHandler) Sweep(c *gin.Context) {
	// a sweep restarts streams; it must not stop halfway if the caller leaves
	report, err := h.sweeper.RunSweep(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		if errors.Is(err, health.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "a health sweep is already running"})
			return
		}
		slog.Error("manual health sweep", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "health sweep failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// LatestReport handles GET /v1/monitor/reports/latest. Archived reports win
// over this process's last in-memory report, since sweeps may run elsewhere.
func (h *MonitorHandler) LatestReport(c *gin.Context) {
	if h.reports != nil {
		data, key, err := h.reports.LatestReport(c.Request.Context())
		if err != nil {
			slog.Warn("load archived sweep report", "error", err)
		} else if data != nil {
			var report health.SweepReport
			if err := json.Unmarshal(data, &report); err == nil {
				report.ArchiveKey = key
				c.JSON(http.StatusOK, report)
				return
			}
			slog.Warn("decode archived sweep report", "key", key)
		}
	}

	if last := h.sweeper.LastReport(); last != nil {
		c.JSON(http.StatusOK, last)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no health sweep has completed yet"})
}
