package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/stream"
	"github.com/your-org/streamcore/pkg/dto"
)

// StreamController is the orchestrator surface used by the HTTP layer.
type StreamController interface {
	Start(ctx context.Context, cameraID uuid.UUID, manual bool) (*stream.Result, error)
	Stop(ctx context.Context, cameraID uuid.UUID, manual bool) (*stream.Result, error)
	HandleCallback(ctx context.Context, cb stream.Callback) (models.StreamStatus, error)
	Busy(cameraID uuid.UUID) bool
}

type StreamHandler struct {
	streams StreamController
}

func NewStreamHandler(streams StreamController) *StreamHandler {
	return &StreamHandler{streams: streams}
}

func (h *StreamHandler) bindControl(c *gin.Context) (dto.StreamControlRequest, uuid.UUID, bool) {
	var req dto.StreamControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, uuid.Nil, false
	}
	if req.CameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "camera_id is required"})
		return req, uuid.Nil, false
	}
	id, err := uuid.Parse(req.CameraID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
		return req, uuid.Nil, false
	}
	return req, id, true
}

// Start handles POST /stream/start. Upstream failures are reported with
// success=false inside a 200 response.
func (h *StreamHandler) Start(c *gin.Context) {
	req, id, ok := h.bindControl(c)
	if !ok {
		return
	}

	res, err := h.streams.Start(c.Request.Context(), id, req.ManualTrigger)
	if err != nil {
		writeStreamError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, dto.StartStreamResponse{
		Success:        res.Success,
		Status:         string(res.Status),
		StreamID:       res.StreamID,
		ReturnedHLSURL: res.ReturnedHLSURL,
		ProxyURL:       res.ProxyURL,
		ManualTrigger:  req.ManualTrigger,
		Error:          res.Error,
	})
}

// Stop handles POST /stream/stop. Local cleanup always succeeds, so a
// handled stop reports success even when the provider was unreachable.
func (h *StreamHandler) Stop(c *gin.Context) {
	req, id, ok := h.bindControl(c)
	if !ok {
		return
	}

	res, err := h.streams.Stop(c.Request.Context(), id, req.ManualTrigger)
	if err != nil {
		writeStreamError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, dto.StopStreamResponse{
		Success:       res.Success,
		Status:        string(res.Status),
		Message:       res.Message,
		ManualTrigger: req.ManualTrigger,
		Error:         res.Error,
	})
}

// Callback handles POST /stream/callback from the stream provider.
func (h *StreamHandler) Callback(c *gin.Context) {
	var req dto.StreamCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := uuid.Parse(req.CameraID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
		return
	}

	hls := req.HLSURL
	if hls == "" {
		hls = req.ManifestURL
	}
	if hls == "" {
		hls = req.PlaybackURL
	}

	status, err := h.streams.HandleCallback(c.Request.Context(), stream.Callback{
		CameraID: id,
		StreamID: req.StreamID,
		Status:   req.Status,
		HLSURL:   hls,
		Error:    req.Error,
	})
	if err != nil {
		writeStreamError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, dto.StreamCallbackResponse{Status: string(status)})
}

func writeStreamError(c *gin.Context, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, models.ErrCameraNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
	case errors.Is(err, models.ErrRTSPURLMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "camera has no RTSP URL configured"})
	case errors.Is(err, models.ErrOperationInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "a stream operation is already in progress for this camera"})
	case errors.Is(err, models.ErrConfiguration):
		slog.Error("stream service misconfigured", "camera_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream service is not configured"})
	default:
		slog.Error("stream operation failed", "camera_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
