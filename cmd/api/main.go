package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/streamcore/internal/api"
	"github.com/your-org/streamcore/internal/api/handlers"
	"github.com/your-org/streamcore/internal/api/ws"
	"github.com/your-org/streamcore/internal/config"
	"github.com/your-org/streamcore/internal/health"
	"github.com/your-org/streamcore/internal/hls"
	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/observability"
	"github.com/your-org/streamcore/internal/queue"
	"github.com/your-org/streamcore/internal/storage"
	"github.com/your-org/streamcore/internal/stream"
	"github.com/your-org/streamcore/internal/upstream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting streamcore API service", "port", cfg.Server.Port, "upstream", cfg.Upstream.BaseURL)
	if cfg.Upstream.CallbackURL == "" {
		slog.Warn("AWARECAM_CALLBACK_URL is not set; stream starts will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Status and sweep events reach the hub through NATS so that changes made
	// by any instance, or by the standalone monitor, are broadcast everywhere.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	instance := consumerSuffix()
	err = consumer.ConsumeStatus(ctx, "api-status-"+instance, func(ctx context.Context, evt models.StatusEvent) error {
		return hub.PublishStatus(ctx, evt)
	})
	if err != nil {
		slog.Warn("start status consumer", "error", err)
	}
	err = consumer.ConsumeSweeps(ctx, "api-sweeps-"+instance, func(_ context.Context, msg jetstream.Msg) error {
		hub.BroadcastSweep(json.RawMessage(msg.Data()))
		return nil
	})
	if err != nil {
		slog.Warn("start sweep consumer", "error", err)
	}

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL:  cfg.Upstream.BaseURL,
		Email:    cfg.Upstream.Email,
		Password: cfg.Upstream.Password,
		Timeout:  cfg.Upstream.RequestTimeout,
	})

	orchestrator := stream.NewOrchestrator(db, upstreamClient, producer, stream.Config{
		CallbackURL:        cfg.Upstream.CallbackURL,
		PlaybackTTLSeconds: cfg.Upstream.PlaybackTTLSeconds,
		LowLatency:         cfg.Upstream.UseLowLatency(),
	})

	proxy := hls.NewProxy(hls.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		Credentials:     hls.Credentials{Username: cfg.Proxy.Username, Password: cfg.Proxy.Password},
		UserAgent:       cfg.Proxy.UserAgent,
		ManifestTimeout: cfg.Proxy.ManifestTimeout,
		SegmentTimeout:  cfg.Proxy.SegmentTimeout,
		MaxManifestSize: cfg.Proxy.MaxManifestSize,
	})

	probeBase := cfg.Monitor.ProbeBaseURL
	if probeBase == "" {
		probeBase = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	}
	monitor := health.NewMonitor(db, orchestrator, minioStore, producer, health.Config{
		Schedule:        cfg.Monitor.Schedule,
		StopSettle:      cfg.Monitor.StopSettle,
		ProbeDelay:      cfg.Monitor.ProbeDelay,
		ProbeBaseURL:    probeBase,
		ReportRetention: cfg.Monitor.ReportRetention,
	})
	if cfg.Monitor.Enabled {
		if err := monitor.Start(ctx); err != nil {
			slog.Error("start health monitor", "error", err)
			os.Exit(1)
		}
		defer monitor.Stop()
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:        cfg.Server.APIKey,
		CallbackToken: cfg.Upstream.CallbackToken,
		Cameras:       db,
		Streams:       orchestrator,
		Proxy:         proxy,
		Monitor:       monitor,
		Reports:       minioStore,
		Hub:           hub,
		Checks: []handlers.ReadinessCheck{
			{Name: "postgres", Ping: db.Ping},
			{Name: "minio", Ping: minioStore.Ping},
			{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }},
		},
	})

	// Start HTTP server. WriteTimeout stays zero: segment responses are
	// streamed and bounded by the proxy's own upstream timeouts.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// consumerSuffix gives each API instance its own durable consumers, so every
// instance sees every event.
func consumerSuffix() string {
	if v := os.Getenv("STREAMCORE_INSTANCE_ID"); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "default"
	}
	return host
}
