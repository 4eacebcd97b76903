package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/streamcore/internal/config"
	"github.com/your-org/streamcore/internal/health"
	"github.com/your-org/streamcore/internal/observability"
	"github.com/your-org/streamcore/internal/queue"
	"github.com/your-org/streamcore/internal/storage"
	"github.com/your-org/streamcore/internal/stream"
	"github.com/your-org/streamcore/internal/upstream"
)

// The standalone monitor runs health sweeps outside the API process. Run
// only one of: this binary, or an API instance with monitor.enabled.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	metricsAddr := flag.String("metrics-addr", ":8081", "address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting streamcore health monitor", "schedule", cfg.Monitor.Schedule, "once", *once)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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

	monitor := health.NewMonitor(db, orchestrator, minioStore, producer, health.Config{
		Schedule:        cfg.Monitor.Schedule,
		StopSettle:      cfg.Monitor.StopSettle,
		ProbeDelay:      cfg.Monitor.ProbeDelay,
		ProbeBaseURL:    cfg.Monitor.ProbeBaseURL,
		ReportRetention: cfg.Monitor.ReportRetention,
	})

	if *once {
		report, err := monitor.RunSweep(ctx)
		if err != nil {
			slog.Error("health sweep", "error", err)
			os.Exit(1)
		}
		monitor.Wait()
		if report.RestartsSucceeded < report.RestartsAttempted {
			os.Exit(2)
		}
		return
	}

	if err := monitor.Start(ctx); err != nil {
		slog.Error("start health monitor", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	metricsSrv := &http.Server{Addr: *metricsAddr, ReadHeaderTimeout: 5 * time.Second}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv.Handler = mux
	go func() {
		slog.Info("monitor metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down health monitor...")
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	slog.Info("health monitor stopped")
}
