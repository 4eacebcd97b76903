package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/stream"
	"github.com/your-org/streamcore/pkg/dto"
)

const maxLogLimit = 500

type CameraReader interface {
	GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error)
	ListCallbackLogs(ctx context.Context, cameraID uuid.UUID, limit int) ([]models.StreamCallbackLog, error)
}

type CameraHandler struct {
	cameras CameraReader
	busy    func(uuid.UUID) bool
}

// NewCameraHandler builds a read-only view of camera stream state. busy may
// be nil.
func NewCameraHandler(cameras CameraReader, busy func(uuid.UUID) bool) *CameraHandler {
	if busy == nil {
		busy = func(uuid.UUID) bool { return false }
	}
	return &CameraHandler{cameras: cameras, busy: busy}
}

func (h *CameraHandler) load(c *gin.Context) (*models.Camera, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return nil, false
	}
	cam, err := h.cameras.GetCamera(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if cam == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return nil, false
	}
	return cam, true
}

// Stream handles GET /v1/cameras/:id/stream. The upstream manifest URL is
// not exposed; clients play through proxy_url.
func (h *CameraHandler) Stream(c *gin.Context) {
	cam, ok := h.load(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, dto.CameraStreamResponse{
		CameraID:        cam.ID,
		Name:            cam.Name,
		CameraType:      string(cam.CameraType),
		StreamStatus:    string(cam.StreamStatus),
		StreamID:        cam.CurrentStreamID(),
		ProxyURL:        stream.ProxyURL(cam.ID),
		HasManifest:     cam.CurrentHLSURL() != "",
		LastHeartbeat:   cam.LastHeartbeat,
		LastError:       cam.LastError,
		StatusChangedAt: cam.StatusChangedAt,
		OperationActive: h.busy(cam.ID),
	})
}

// Logs handles GET /v1/cameras/:id/logs.
func (h *CameraHandler) Logs(c *gin.Context) {
	cam, ok := h.load(c)
	if !ok {
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxLogLimit)
		}
	}

	logs, err := h.cameras.ListCallbackLogs(c.Request.Context(), cam.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.CallbackLogResponse, 0, len(logs))
	for _, l := range logs {
		entry := dto.CallbackLogResponse{
			ID:        l.ID,
			Status:    l.Status,
			Payload:   l.Payload,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
		if l.StreamID != nil {
			entry.StreamID = *l.StreamID
		}
		resp = append(resp, entry)
	}
	c.JSON(http.StatusOK, dto.CallbackLogListResponse{Logs: resp, Total: len(resp)})
}
