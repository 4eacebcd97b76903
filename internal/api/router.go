package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/streamcore/internal/api/handlers"
	"github.com/your-org/streamcore/internal/api/ws"
	"github.com/your-org/streamcore/internal/auth"
	"github.com/your-org/streamcore/internal/hls"
)

type RouterConfig struct {
	APIKey        string
	CallbackToken string
	Cameras       handlers.CameraReader
	Streams       handlers.StreamController
	Proxy         *hls.Proxy
	Monitor       handlers.Sweeper
	// Reports is the sweep report archive; nil serves in-memory reports only.
	Reports handlers.ReportArchive
	Hub     *ws.Hub
	Checks  []handlers.ReadinessCheck
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:           true,
		AllowMethods:              []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowHeaders:              []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID", "Range"},
		ExposeHeaders:             []string{"Content-Length", "Content-Range", "X-Request-ID"},
		MaxAge:                    12 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Playback is loaded by the browser's video element, which cannot send
	// API keys; the proxy only exposes stream bytes.
	proxyH := handlers.NewProxyHandler(cfg.Cameras, cfg.Proxy)
	r.Any("/stream-proxy", proxyH.Serve)

	// Stream control
	streamH := handlers.NewStreamHandler(cfg.Streams)
	r.POST("/stream/callback", auth.CallbackTokenMiddleware(cfg.CallbackToken), streamH.Callback)
	control := r.Group("/stream")
	control.Use(auth.APIKeyMiddleware(cfg.APIKey))
	control.POST("/start", streamH.Start)
	control.POST("/stop", streamH.Stop)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Cameras
	cameraH := handlers.NewCameraHandler(cfg.Cameras, cfg.Streams.Busy)
	v1.GET("/cameras/:id/stream", cameraH.Stream)
	v1.GET("/cameras/:id/logs", cameraH.Logs)

	// Health monitor
	if cfg.Monitor != nil {
		monitorH := handlers.NewMonitorHandler(cfg.Monitor, cfg.Reports)
		v1.POST("/monitor/sweep", monitorH.Sweep)
		v1.GET("/monitor/reports/latest", monitorH.LatestReport)
	}

	return r
}
