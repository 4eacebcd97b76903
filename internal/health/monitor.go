package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/observability"
	"github.com/your-org/streamcore/internal/stream"
)

// ErrSweepRunning is returned when a sweep is requested while one is active.
var ErrSweepRunning = errors.New("health sweep already running")

type Store interface {
	ListCameras(ctx context.Context) ([]models.Camera, error)
	AppendCallbackLog(ctx context.Context, entry *models.StreamCallbackLog) error
}

// Streams is the orchestrator surface used for recovery.
type Streams interface {
	Start(ctx context.Context, cameraID uuid.UUID, manual bool) (*stream.Result, error)
	Stop(ctx context.Context, cameraID uuid.UUID, manual bool) (*stream.Result, error)
	MarkFailed(ctx context.Context, cameraID uuid.UUID, reason string) error
}

// Archive stores encoded sweep reports. Optional.
type Archive interface {
	SaveReport(ctx context.Context, finishedAt time.Time, data []byte) (string, error)
	PruneReports(ctx context.Context, keep int) (int, error)
}

// Publisher announces finished sweeps. Optional.
type Publisher interface {
	PublishSweep(ctx context.Context, summary any) error
}

type Config struct {
	Schedule        string
	StopSettle      time.Duration
	ProbeDelay      time.Duration
	ProbeBaseURL    string
	ReportRetention int
}

type CameraOutcome struct {
	CameraID       uuid.UUID           `json:"camera_id"`
	Name           string              `json:"name,omitempty"`
	PreviousStatus models.StreamStatus `json:"previous_status"`
	Severity       Severity            `json:"severity"`
	Reason         string              `json:"reason"`
	Result         string              `json:"result"`
	Error          string              `json:"error,omitempty"`
}

type SweepReport struct {
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
	DurationMS        int64           `json:"duration_ms"`
	Total             int             `json:"total"`
	Active            int             `json:"active"`
	Failed            int             `json:"failed"`
	Skipped           int             `json:"skipped"`
	RestartsAttempted int             `json:"restarts_attempted"`
	RestartsSucceeded int             `json:"restarts_succeeded"`
	Restarts          []CameraOutcome `json:"restarts,omitempty"`
	ArchiveKey        string          `json:"archive_key,omitempty"`
}

// Summary is the report without per-camera detail.
func (r SweepReport) Summary() SweepReport {
	r.Restarts = nil
	return r
}

const (
	resultSucceeded = "succeeded"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

type Monitor struct {
	store     Store
	streams   Streams
	archive   Archive
	publisher Publisher
	cfg       Config

	probeClient *http.Client
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	sweeping sync.Mutex

	mu      sync.Mutex
	last    *SweepReport
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	probeWG sync.WaitGroup
}

// NewMonitor builds a monitor. archive and publisher may be nil.
func NewMonitor(store Store, streams Streams, archive Archive, publisher Publisher, cfg Config) *Monitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	return &Monitor{
		store:       store,
		streams:     streams,
		archive:     archive,
		publisher:   publisher,
		cfg:         cfg,
		probeClient: &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		sleep:       sleepCtx,
		ctx:         context.Background(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start schedules sweeps on the configured cron spec.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return fmt.Errorf("health monitor already started")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	runCtx := m.ctx
	if _, err := c.AddFunc(m.cfg.Schedule, func() {
		if _, err := m.RunSweep(runCtx); err != nil && !errors.Is(err, ErrSweepRunning) {
			slog.Error("health sweep failed", "error", err)
		}
	}); err != nil {
		m.cancel()
		m.ctx, m.cancel = context.Background(), nil
		return fmt.Errorf("schedule health sweep %q: %w", m.cfg.Schedule, err)
	}
	c.Start()
	m.cron = c

	slog.Info("health monitor started", "schedule", m.cfg.Schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep and pending probes.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	cancel := m.cancel
	m.cron, m.cancel = nil, nil
	m.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	m.probeWG.Wait()

	m.mu.Lock()
	m.ctx = context.Background()
	m.mu.Unlock()
	slog.Info("health monitor stopped")
}

// Wait blocks until pending post-restart probes finish.
func (m *Monitor) Wait() {
	m.probeWG.Wait()
}

// LastReport returns the most recent sweep report of this process.
func (m *Monitor) LastReport() *SweepReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	r := *m.last
	return &r
}

// RunSweep classifies every camera once and recovers the unhealthy ones,
// sequentially. Only one sweep runs at a time.
func (m *Monitor) RunSweep(ctx context.Context) (*SweepReport, error) {
	if !m.sweeping.TryLock() {
		return nil, ErrSweepRunning
	}
	defer m.sweeping.Unlock()

	report := &SweepReport{StartedAt: m.now().UTC()}

	cameras, err := m.store.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	report.Total = len(cameras)

	for _, cam := range cameras {
		if ctx.Err() != nil {
			break
		}

		d := Classify(cam, m.now())
		switch d.Condition {
		case ConditionHealthy:
			report.Active++
		case ConditionFailed:
			report.Failed++
		}

		switch d.Action {
		case ActionSkip:
			report.Skipped++
			continue
		case ActionNone:
			continue
		}

		outcome := m.recover(ctx, cam, d)
		if outcome.Result == resultSkipped {
			report.Skipped++
		} else {
			report.RestartsAttempted++
			if outcome.Result == resultSucceeded {
				report.RestartsSucceeded++
			}
		}
		report.Restarts = append(report.Restarts, outcome)
	}

	report.FinishedAt = m.now().UTC()
	report.DurationMS = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	m.finish(ctx, report)
	return report, ctx.Err()
}

func (m *Monitor) recover(ctx context.Context, cam models.Camera, d Decision) CameraOutcome {
	out := CameraOutcome{
		CameraID:       cam.ID,
		Name:           cam.Name,
		PreviousStatus: cam.StreamStatus,
		Severity:       d.Severity,
		Reason:         d.Reason,
	}
	log := slog.With("camera_id", cam.ID, "severity", d.Severity, "reason", d.Reason)
	log.Info("restarting stream")

	if d.Severity == SeverityHigh && cam.StreamStatus != models.StreamStatusIdle {
		if _, err := m.streams.Stop(ctx, cam.ID, false); err != nil {
			if errors.Is(err, models.ErrOperationInProgress) {
				return m.skipped(ctx, out, log)
			}
			log.Warn("stop before restart failed, continuing", "error", err)
		}
		if err := m.sleep(ctx, m.cfg.StopSettle); err != nil {
			out.Result, out.Error = resultFailed, "sweep canceled"
			m.logOutcome(ctx, out)
			return out
		}
	}

	res, err := m.streams.Start(ctx, cam.ID, false)
	switch {
	case errors.Is(err, models.ErrOperationInProgress):
		return m.skipped(ctx, out, log)
	case err != nil:
		out.Result, out.Error = resultFailed, err.Error()
	case !res.Success:
		out.Result, out.Error = resultFailed, res.Error
	default:
		out.Result = resultSucceeded
	}

	if out.Result == resultFailed {
		reason := "automatic restart failed"
		if out.Error != "" {
			reason += ": " + out.Error
		}
		if err := m.streams.MarkFailed(ctx, cam.ID, reason); err != nil {
			log.Warn("record failed restart", "error", err)
		}
		log.Warn("stream restart failed", "error", out.Error)
	} else {
		log.Info("stream restarted", "status", res.Status)
		m.probe(cam.ID)
	}

	observability.StreamRestarts.WithLabelValues(string(d.Severity), out.Result).Inc()
	m.logOutcome(ctx, out)
	return out
}

func (m *Monitor) skipped(ctx context.Context, out CameraOutcome, log *slog.Logger) CameraOutcome {
	out.Result = resultSkipped
	out.Error = models.ErrOperationInProgress.Error()
	log.Info("restart skipped, operation in progress")
	observability.StreamRestarts.WithLabelValues(string(out.Severity), out.Result).Inc()
	m.logOutcome(ctx, out)
	return out
}

func (m *Monitor) logOutcome(ctx context.Context, out CameraOutcome) {
	status := models.LogStatusRestartOK
	switch out.Result {
	case resultFailed:
		status = models.LogStatusRestartFailed
	case resultSkipped:
		status = models.LogStatusRestartSkipped
	}
	entry, err := stream.NewCallbackLog(out.CameraID, "", status, out)
	if err != nil {
		slog.Warn("build restart log", "camera_id", out.CameraID, "error", err)
		return
	}
	if err := m.store.AppendCallbackLog(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("append restart log", "camera_id", out.CameraID, "error", err)
	}
}

// probe checks the proxy endpoint for a restarted camera after a delay.
// Failures are only logged; the next sweep catches persistent problems.
func (m *Monitor) probe(cameraID uuid.UUID) {
	if m.cfg.ProbeBaseURL == "" {
		return
	}
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	target := strings.TrimRight(m.cfg.ProbeBaseURL, "/") + stream.ProxyURL(cameraID)
	m.probeWG.Add(1)
	go func() {
		defer m.probeWG.Done()
		if err := m.sleep(ctx, m.cfg.ProbeDelay); err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return
		}
		resp, err := m.probeClient.Do(req)
		if err != nil {
			slog.Warn("post-restart probe failed", "camera_id", cameraID, "error", err)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode != http.StatusOK {
			slog.Warn("post-restart probe unhealthy", "camera_id", cameraID, "status", resp.StatusCode)
			return
		}
		slog.Info("post-restart probe ok", "camera_id", cameraID)
	}()
}

func (m *Monitor) finish(ctx context.Context, report *SweepReport) {
	ctx = context.WithoutCancel(ctx)

	observability.HealthSweepDuration.Observe(float64(report.DurationMS) / 1000)
	observability.LiveStreams.Set(float64(report.Active))
	observability.FailedStreams.Set(float64(report.Failed))

	if m.archive != nil {
		if data, err := json.Marshal(report); err != nil {
			slog.Warn("encode sweep report", "error", err)
		} else if key, err := m.archive.SaveReport(ctx, report.FinishedAt, data); err != nil {
			slog.Warn("archive sweep report", "error", err)
		} else {
			report.ArchiveKey = key
			if m.cfg.ReportRetention > 0 {
				if n, err := m.archive.PruneReports(ctx, m.cfg.ReportRetention); err != nil {
					slog.Warn("prune sweep reports", "error", err)
				} else if n > 0 {
					slog.Debug("pruned sweep reports", "removed", n)
				}
			}
		}
	}

	summary := report.Summary()
	if entry, err := stream.NewCallbackLog(uuid.Nil, "", models.LogStatusHealthCheck, summary); err == nil {
		if err := m.store.AppendCallbackLog(ctx, entry); err != nil {
			slog.Warn("append sweep summary log", "error", err)
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishSweep(ctx, summary); err != nil {
			slog.Warn("publish sweep summary", "error", err)
		}
	}

	m.mu.Lock()
	r := *report
	m.last = &r
	m.mu.Unlock()

	slog.Info("health sweep complete",
		"total", report.Total,
		"active", report.Active,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"restarts_attempted", report.RestartsAttempted,
		"restarts_succeeded", report.RestartsSucceeded,
		"duration_ms", report.DurationMS,
	)
}
