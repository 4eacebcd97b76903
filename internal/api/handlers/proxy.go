package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/hls"
	"github.com/your-org/streamcore/internal/models"
)

const proxyMethods = "GET, HEAD, OPTIONS, POST"

// CameraGetter reads a single camera record.
type CameraGetter interface {
	GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error)
}

// ProxyHandler serves /stream-proxy. It only reads camera state.
type ProxyHandler struct {
	cameras CameraGetter
	proxy   *hls.Proxy
}

func NewProxyHandler(cameras CameraGetter, proxy *hls.Proxy) *ProxyHandler {
	return &ProxyHandler{cameras: cameras, proxy: proxy}
}

func (h *ProxyHandler) Serve(c *gin.Context) {
	setProxyCORS(c)

	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusOK)
		return
	case http.MethodPost:
		// some players POST keep-alives to the playlist URL
		c.String(http.StatusOK, "ok")
		return
	case http.MethodGet, http.MethodHead:
	default:
		c.Header("Allow", proxyMethods)
		c.String(http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rawID := c.Query("camera_id")
	if rawID == "" {
		c.String(http.StatusBadRequest, "camera_id is required")
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid camera_id")
		return
	}

	file := c.Query("file")
	if file != "" {
		if err := hls.ValidateFile(file); err != nil {
			c.String(http.StatusBadRequest, "invalid file parameter")
			return
		}
	}

	cam, err := h.cameras.GetCamera(c.Request.Context(), id)
	if err != nil {
		slog.Error("proxy camera lookup", "camera_id", id, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	if cam == nil {
		c.String(http.StatusNotFound, "camera not found")
		return
	}

	h.proxy.Serve(c.Writer, c.Request, hls.Request{
		CameraID:    id.String(),
		ManifestURL: cam.CurrentHLSURL(),
		File:        file,
		Origin:      requestOrigin(c.Request),
	})
}

func setProxyCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", proxyMethods)
	c.Header("Access-Control-Allow-Headers", "Range, Content-Type, Authorization")
	c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range")
}

// requestOrigin is the scheme://host the client used, honoring proxy headers.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		scheme = strings.TrimSpace(strings.Split(v, ",")[0])
	}
	host := r.Host
	if v := r.Header.Get("X-Forwarded-Host"); v != "" {
		host = strings.TrimSpace(strings.Split(v, ",")[0])
	}
	return scheme + "://" + host
}
