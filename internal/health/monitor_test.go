package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/storage"
	"github.com/your-org/streamcore/internal/stream"
	"github.com/your-org/streamcore/internal/upstream"
)

type scriptedUpstream struct {
	mu        sync.Mutex
	calls     []string
	startResp *upstream.StartStreamResponse
	startErr  error
}

func (u *scriptedUpstream) StartStream(ctx context.Context, req upstream.StartStreamRequest, key string) (*upstream.StartStreamResponse, error) {
	u.mu.Lock()
	u.calls = append(u.calls, "start:"+req.CameraID)
	u.mu.Unlock()
	return u.startResp, u.startErr
}

func (u *scriptedUpstream) StopStream(ctx context.Context, streamID string) (int, error) {
	u.mu.Lock()
	u.calls = append(u.calls, "stop:"+streamID)
	u.mu.Unlock()
	return http.StatusOK, nil
}

func (u *scriptedUpstream) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

type fakeArchive struct {
	saved  [][]byte
	pruned int
}

func (a *fakeArchive) SaveReport(_ context.Context, at time.Time, data []byte) (string, error) {
	a.saved = append(a.saved, data)
	return storage.ReportKey(at), nil
}

func (a *fakeArchive) PruneReports(_ context.Context, keep int) (int, error) {
	a.pruned = keep
	return 0, nil
}

type fixture struct {
	store    *storage.MemoryStore
	up       *scriptedUpstream
	orch     *stream.Orchestrator
	monitor  *Monitor
	archive  *fakeArchive
	now      time.Time
	slept    []time.Duration
	sleptMu  sync.Mutex
}

func newFixture(t *testing.T, resp *upstream.StartStreamResponse, startErr error) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		up:      &scriptedUpstream{startResp: resp, startErr: startErr},
		archive: &fakeArchive{},
		now:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orch = stream.NewOrchestrator(f.store, f.up, nil, stream.Config{CallbackURL: "https://app.example/stream/callback"})
	f.monitor = NewMonitor(f.store, f.orch, f.archive, nil, Config{
		StopSettle:      3 * time.Second,
		ProbeDelay:      10 * time.Second,
		ReportRetention: 10,
	})
	f.monitor.now = func() time.Time { return f.now }
	f.monitor.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleptMu.Lock()
		f.slept = append(f.slept, d)
		f.sleptMu.Unlock()
		return nil
	}
	return f
}

func (f *fixture) addCamera(mutate func(*models.Camera)) uuid.UUID {
	streamID := "s-old"
	cam := models.Camera{
		ID:              uuid.New(),
		Name:            "lobby",
		OrgID:           "org",
		RTSPURL:         "rtsp://10.0.0.9/main",
		CameraType:      models.CameraTypeRTSP,
		Status:          models.CameraStatusActive,
		StreamStatus:    models.StreamStatusLive,
		StreamID:        &streamID,
		StatusChangedAt: f.now.Add(-time.Hour),
		CreatedAt:       f.now.Add(-48 * time.Hour),
	}
	hb := f.now.Add(-time.Minute)
	cam.LastHeartbeat = &hb
	if mutate != nil {
		mutate(&cam)
	}
	f.store.PutCamera(cam)
	return cam.ID
}

func TestRunSweep_ErrorWithStaleHeartbeatFailsRestart(t *testing.T) {
	f := newFixture(t, nil, errors.New("dial tcp: connection refused"))
	id := f.addCamera(func(c *models.Camera) {
		c.StreamStatus = models.StreamStatusError
		c.StreamID = nil
		hb := f.now.Add(-15 * time.Minute)
		c.LastHeartbeat = &hb
	})

	report, err := f.monitor.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.RestartsAttempted)
	assert.Equal(t, 0, report.RestartsSucceeded)
	require.Len(t, report.Restarts, 1)
	assert.Equal(t, SeverityHigh, report.Restarts[0].Severity)
	assert.Equal(t, resultFailed, report.Restarts[0].Result)

	// no stream id recorded, so stop has nothing to tear down upstream
	assert.Equal(t, []string{"start:" + id.String()}, f.up.Calls())
	assert.Equal(t, []models.StreamStatus{
		models.StreamStatusStopping, models.StreamStatusStopped,
		models.StreamStatusStarting, models.StreamStatusError,
		models.StreamStatusError,
	}, f.store.StatusHistory(id))
	assert.Contains(t, f.slept, 3*time.Second)

	cam, _ := f.store.GetCamera(context.Background(), id)
	assert.Equal(t, models.StreamStatusError, cam.StreamStatus)
	assert.Contains(t, cam.LastError, "automatic restart failed")

	var statuses []string
	for _, l := range f.store.CallbackLogs() {
		statuses = append(statuses, l.Status)
	}
	assert.Equal(t, []string{models.LogStatusRestartFailed, models.LogStatusHealthCheck}, statuses)
	assert.Len(t, f.archive.saved, 1)
	assert.Equal(t, 10, f.archive.pruned)
}

func TestRunSweep_HighSeverityStopsThenStarts(t *testing.T) {
	f := newFixture(t, &upstream.StartStreamResponse{HTTPStatus: 200, Status: "ready", StreamID: "s-new", HLSURL: "https://cdn/x.m3u8"}, nil)
	id := f.addCamera(func(c *models.Camera) {
		hb := f.now.Add(-20 * time.Minute)
		c.LastHeartbeat = &hb
	})

	report, err := f.monitor.RunSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"stop:s-old", "start:" + id.String()}, f.up.Calls())
	assert.Equal(t, 1, report.RestartsSucceeded)
	assert.Equal(t, 1, report.Active)

	cam, _ := f.store.GetCamera(context.Background(), id)
	assert.Equal(t, models.StreamStatusLive, cam.StreamStatus)
	assert.Equal(t, "s-new", cam.CurrentStreamID())
}

func TestRunSweep_MediumSeverityStartsDirectly(t *testing.T) {
	f := newFixture(t, &upstream.StartStreamResponse{HTTPStatus: 200, Status: "pending", StreamID: "s-new"}, nil)
	id := f.addCamera(func(c *models.Camera) {
		c.StreamStatus = models.StreamStatusStopped
		c.StreamID = nil
	})

	report, err := f.monitor.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"start:" + id.String()}, f.up.Calls())
	assert.Equal(t, 1, report.RestartsSucceeded)
	assert.NotContains(t, f.slept, 3*time.Second)
}

func TestRunSweep_SkipsAndHealthy(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.addCamera(nil)
	f.addCamera(func(c *models.Camera) {
		c.StreamStatus = models.StreamStatusError
		c.CreatedAt = f.now.Add(-5 * time.Second)
	})
	f.addCamera(func(c *models.Camera) {
		c.CameraType = models.CameraTypeDevice
		c.StreamStatus = models.StreamStatusIdle
	})

	report, err := f.monitor.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Active)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.RestartsAttempted)
	assert.Empty(t, f.up.Calls())

	last := f.monitor.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Total)
	assert.NotEmpty(t, last.ArchiveKey)

	var summary SweepReport
	logs := f.store.CallbackLogs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].CameraID)
	require.NoError(t, json.Unmarshal(logs[0].Payload, &summary))
	assert.Equal(t, 3, summary.Total)
}

type busyStreams struct{}

func (busyStreams) Start(context.Context, uuid.UUID, bool) (*stream.Result, error) {
	return nil, models.ErrOperationInProgress
}

func (busyStreams) Stop(context.Context, uuid.UUID, bool) (*stream.Result, error) {
	return nil, models.ErrOperationInProgress
}

func (busyStreams) MarkFailed(context.Context, uuid.UUID, string) error {
	return models.ErrOperationInProgress
}

func TestRunSweep_BusyCameraIsSkipped(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now()
	store.PutCamera(models.Camera{
		ID: uuid.New(), RTSPURL: "rtsp://x", Status: models.CameraStatusActive,
		StreamStatus: models.StreamStatusStopped, CreatedAt: now.Add(-time.Hour),
	})

	m := NewMonitor(store, busyStreams{}, nil, nil, Config{})
	report, err := m.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.RestartsAttempted)
	require.Len(t, report.Restarts, 1)
	assert.Equal(t, resultSkipped, report.Restarts[0].Result)
}

func TestRunSweep_ProbeAfterRestart(t *testing.T) {
	var probes atomic.Int32
	paths := make(chan string, 1)
	probeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		paths <- r.URL.RequestURI()
	}))
	t.Cleanup(probeServer.Close)

	f := newFixture(t, &upstream.StartStreamResponse{HTTPStatus: 200, Status: "live", StreamID: "s", HLSURL: "https://cdn/i.m3u8"}, nil)
	f.monitor.cfg.ProbeBaseURL = probeServer.URL + "/"
	id := f.addCamera(func(c *models.Camera) { c.StreamStatus = models.StreamStatusStopped })

	_, err := f.monitor.RunSweep(context.Background())
	require.NoError(t, err)

	f.monitor.probeWG.Wait()
	assert.Equal(t, int32(1), probes.Load())
	assert.Equal(t, "/stream-proxy?camera_id="+id.String(), <-paths)
	assert.Contains(t, f.slept, 10*time.Second)
}

func TestRunSweep_SingleFlight(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.monitor.sweeping.Lock()
	_, err := f.monitor.RunSweep(context.Background())
	f.monitor.sweeping.Unlock()
	assert.True(t, errors.Is(err, ErrSweepRunning))
}

func TestMonitor_StartStop(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.monitor.cfg.Schedule = "@every 1h"

	require.NoError(t, f.monitor.Start(context.Background()))
	assert.Error(t, f.monitor.Start(context.Background()))
	f.monitor.Stop()
	f.monitor.Stop()

	bad := newFixture(t, nil, nil)
	bad.monitor.cfg.Schedule = "not a schedule"
	assert.Error(t, bad.monitor.Start(context.Background()))
}
