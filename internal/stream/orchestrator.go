// Package stream owns the camera stream lifecycle: it starts and stops
// streams against the upstream provider and is the only writer of a
// camera's stream state.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/observability"
	"github.com/your-org/streamcore/internal/upstream"
)

// CameraStore is the part of the entity store the orchestrator needs.
type CameraStore interface {
	GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error)
	UpdateStreamState(ctx context.Context, id uuid.UUID, state models.StreamState) error
	AppendCallbackLog(ctx context.Context, entry *models.StreamCallbackLog) error
}

// Upstream is the provider API used to start and stop streams.
type Upstream interface {
	StartStream(ctx context.Context, req upstream.StartStreamRequest, idempotencyKey string) (*upstream.StartStreamResponse, error)
	StopStream(ctx context.Context, streamID string) (int, error)
}

// StatusPublisher receives every committed state change. Optional.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, evt models.StatusEvent) error
}

type Config struct {
	CallbackURL        string
	PlaybackTTLSeconds int
	LowLatency         bool
}

// Result is returned by Start and Stop for every handled outcome,
// including upstream failures (Success=false).
type Result struct {
	Success        bool
	Status         models.StreamStatus
	StreamID       string
	ReturnedHLSURL string
	ProxyURL       string
	Message        string
	Error          string
}

// Orchestrator serializes start/stop per camera. A camera in the in-flight
// set rejects further operations with ErrOperationInProgress.
type Orchestrator struct {
	store     CameraStore
	upstream  Upstream
	publisher StatusPublisher
	cfg       Config

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}

	now func() time.Time
}

func NewOrchestrator(store CameraStore, up Upstream, publisher StatusPublisher, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		upstream:  up,
		publisher: publisher,
		cfg:       cfg,
		inFlight:  make(map[uuid.UUID]struct{}),
		now:       time.Now,
	}
}

// ProxyURL is the same-origin playback URL for a camera.
func ProxyURL(cameraID uuid.UUID) string {
	return "/stream-proxy?camera_id=" + cameraID.String()
}

func (o *Orchestrator) acquire(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	delete(o.inFlight, id)
	o.mu.Unlock()
}

// Busy reports whether an operation is currently running for the camera.
func (o *Orchestrator) Busy(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.inFlight[id]
	return busy
}

// Start brings the camera's stream up. manual marks user-triggered starts.
func (o *Orchestrator) Start(ctx context.Context, cameraID uuid.UUID, manual bool) (*Result, error) {
	if o.cfg.CallbackURL == "" {
		return nil, fmt.Errorf("%w: AWARECAM_CALLBACK_URL is not set", models.ErrConfiguration)
	}
	if !o.acquire(cameraID) {
		observability.StreamOperations.WithLabelValues("start", "busy").Inc()
		return nil, models.ErrOperationInProgress
	}
	defer o.release(cameraID)

	// state commits must survive a caller that goes away mid-operation
	ctx = context.WithoutCancel(ctx)
	trigger := triggerName(manual)

	cam, err := o.store.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("load camera: %w", err)
	}
	if cam == nil {
		return nil, models.ErrCameraNotFound
	}

	if cam.IsDevice() {
		// captured by the browser; nothing to start upstream
		now := o.now()
		if err := o.commit(ctx, cameraID, models.StreamState{Status: models.StreamStatusLive, LastHeartbeat: &now}, trigger); err != nil {
			return nil, err
		}
		observability.StreamOperations.WithLabelValues("start", "device").Inc()
		return &Result{Success: true, Status: models.StreamStatusLive}, nil
	}
	if cam.RTSPURL == "" {
		return nil, models.ErrRTSPURLMissing
	}

	if err := o.commit(ctx, cameraID, models.StreamState{Status: models.StreamStatusStarting}, trigger); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s-%d", cameraID, o.now().UnixMilli())
	if manual {
		key += "-manual"
	}

	resp, err := o.upstream.StartStream(ctx, upstream.StartStreamRequest{
		OrgID:              cam.OrgID,
		CameraID:           cameraID.String(),
		RTSPURL:            cam.RTSPURL,
		CallbackURL:        o.cfg.CallbackURL,
		PlaybackTTLSeconds: o.cfg.PlaybackTTLSeconds,
		LowLatency:         o.cfg.LowLatency,
	}, key)
	if err != nil {
		msg := upstreamErrorMessage(err)
		slog.Error("upstream start failed", "camera_id", cameraID, "trigger", trigger, "error", err)
		if cerr := o.commit(ctx, cameraID, models.StreamState{Status: models.StreamStatusError, LastError: msg}, trigger); cerr != nil {
			return nil, cerr
		}
		observability.StreamOperations.WithLabelValues("start", "error").Inc()
		return &Result{Success: false, Status: models.StreamStatusError, ProxyURL: ProxyURL(cameraID), Error: msg}, nil
	}

	status := models.NormalizeUpstreamStatus(resp.Status)
	if resp.Failed() {
		status = models.StreamStatusError
	}

	state := models.StreamState{Status: status}
	switch status {
	case models.StreamStatusLive:
		if resp.HLSURL == "" {
			// the upstream callback will deliver the manifest URL
			state.Status = models.StreamStatusStarting
			state.StreamID = strPtr(resp.StreamID)
		} else {
			now := o.now()
			state.StreamID = strPtr(resp.StreamID)
			state.HLSURL = strPtr(resp.HLSURL)
			state.LastHeartbeat = &now
		}
	case models.StreamStatusStarting:
		state.StreamID = strPtr(resp.StreamID)
	case models.StreamStatusError:
		state.LastError = startFailureMessage(resp)
	}

	if err := o.commit(ctx, cameraID, state, trigger); err != nil {
		return nil, err
	}

	result := &Result{
		Success:        state.Status != models.StreamStatusError,
		Status:         state.Status,
		StreamID:       resp.StreamID,
		ReturnedHLSURL: resp.HLSURL,
		ProxyURL:       ProxyURL(cameraID),
		Error:          state.LastError,
	}
	observability.StreamOperations.WithLabelValues("start", string(state.Status)).Inc()
	slog.Info("stream start handled",
		"camera_id", cameraID,
		"trigger", trigger,
		"status", state.Status,
		"stream_id", resp.StreamID,
	)
	return result, nil
}

// Stop tears the stream down. Local state is always cleared, even when the
// provider cannot be reached; an orphaned upstream stream is reconciled by
// the health monitor.
func (o *Orchestrator) Stop(ctx context.Context, cameraID uuid.UUID, manual bool) (*Result, error) {
	if !o.acquire(cameraID) {
		observability.StreamOperations.WithLabelValues("stop", "busy").Inc()
		return nil, models.ErrOperationInProgress
	}
	defer o.release(cameraID)

	ctx = context.WithoutCancel(ctx)
	trigger := triggerName(manual)

	cam, err := o.store.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("load camera: %w", err)
	}
	if cam == nil {
		return nil, models.ErrCameraNotFound
	}

	streamID := cam.CurrentStreamID()
	wasIdle := cam.StreamStatus == models.StreamStatusIdle && streamID == ""

	if err := o.commit(ctx, cameraID, models.StreamState{Status: models.StreamStatusStopping}, trigger); err != nil {
		return nil, err
	}

	var lastError string
	if streamID != "" && !cam.IsDevice() {
		status, err := o.upstream.StopStream(ctx, streamID)
		switch {
		case err != nil:
			lastError = "upstream stop failed: " + upstreamErrorMessage(err)
			slog.Warn("upstream stop failed, clearing local state anyway",
				"camera_id", cameraID, "stream_id", streamID, "error", err)
		case status == http.StatusOK || status == http.StatusNoContent || status == http.StatusAccepted:
		case status == http.StatusNotFound:
			slog.Info("upstream stream already gone", "camera_id", cameraID, "stream_id", streamID)
		default:
			slog.Warn("upstream stop returned unexpected status",
				"camera_id", cameraID, "stream_id", streamID, "status", status)
		}
	}

	final := models.StreamStatusStopped
	if wasIdle {
		final = models.StreamStatusIdle
	}
	if err := o.commit(ctx, cameraID, models.StreamState{Status: final, LastError: lastError}, trigger); err != nil {
		return nil, err
	}

	observability.StreamOperations.WithLabelValues("stop", string(final)).Inc()
	slog.Info("stream stopped", "camera_id", cameraID, "trigger", trigger, "stream_id", streamID)

	return &Result{
		Success: true,
		Status:  final,
		Message: "stream stopped",
		Error:   lastError,
	}, nil
}

// Callback is a status push from the provider.
type Callback struct {
	CameraID uuid.UUID
	StreamID string
	Status   string
	HLSURL   string
	Error    string
}

// HandleCallback applies a provider status push. Pushes for a stream other
// than the camera's current one are ignored.
func (o *Orchestrator) HandleCallback(ctx context.Context, cb Callback) (models.StreamStatus, error) {
	if !o.acquire(cb.CameraID) {
		return "", models.ErrOperationInProgress
	}
	defer o.release(cb.CameraID)

	ctx = context.WithoutCancel(ctx)

	cam, err := o.store.GetCamera(ctx, cb.CameraID)
	if err != nil {
		return "", fmt.Errorf("load camera: %w", err)
	}
	if cam == nil {
		return "", models.ErrCameraNotFound
	}

	o.appendLog(ctx, cb.CameraID, cb.StreamID, models.LogStatusCallback, map[string]any{
		"upstream_status": cb.Status,
		"has_hls_url":     cb.HLSURL != "",
		"error":           cb.Error,
	})

	current := cam.CurrentStreamID()
	if current == "" || (cb.StreamID != "" && cb.StreamID != current) {
		slog.Info("ignoring callback for stale stream",
			"camera_id", cb.CameraID, "stream_id", cb.StreamID, "current_stream_id", current)
		return cam.StreamStatus, nil
	}

	now := o.now()
	state := models.StreamState{Status: models.NormalizeUpstreamStatus(cb.Status), StreamID: &current}
	switch state.Status {
	case models.StreamStatusLive:
		hls := cb.HLSURL
		if hls == "" {
			hls = cam.CurrentHLSURL()
		}
		if hls == "" {
			state.Status = models.StreamStatusStarting
		} else {
			state.HLSURL = &hls
			state.LastHeartbeat = &now
		}
	case models.StreamStatusError:
		state.LastError = cb.Error
		if state.LastError == "" {
			state.LastError = fmt.Sprintf("upstream reported status %q", cb.Status)
		}
	}

	if err := o.commit(ctx, cb.CameraID, state, "callback"); err != nil {
		return "", err
	}
	return state.Status, nil
}

// MarkFailed records a failed recovery attempt. It takes the guard like any
// other operation.
func (o *Orchestrator) MarkFailed(ctx context.Context, cameraID uuid.UUID, reason string) error {
	if !o.acquire(cameraID) {
		return models.ErrOperationInProgress
	}
	defer o.release(cameraID)
	return o.commit(context.WithoutCancel(ctx), cameraID, models.StreamState{Status: models.StreamStatusError, LastError: reason}, "monitor")
}

func (o *Orchestrator) commit(ctx context.Context, cameraID uuid.UUID, state models.StreamState, trigger string) error {
	state = state.Normalize()
	if err := o.store.UpdateStreamState(ctx, cameraID, state); err != nil {
		slog.Error("update stream state", "camera_id", cameraID, "status", state.Status, "error", err)
		return fmt.Errorf("update stream state: %w", err)
	}

	if o.publisher != nil {
		evt := models.StatusEvent{
			CameraID:  cameraID,
			Status:    state.Status,
			LastError: state.LastError,
			Trigger:   trigger,
			Timestamp: o.now(),
		}
		if state.StreamID != nil {
			evt.StreamID = *state.StreamID
		}
		if err := o.publisher.PublishStatus(ctx, evt); err != nil {
			slog.Warn("publish status event", "camera_id", cameraID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) appendLog(ctx context.Context, cameraID uuid.UUID, streamID, status string, payload map[string]any) {
	entry, err := NewCallbackLog(cameraID, streamID, status, payload)
	if err != nil {
		slog.Warn("build callback log", "camera_id", cameraID, "error", err)
		return
	}
	if err := o.store.AppendCallbackLog(ctx, entry); err != nil {
		slog.Warn("append callback log", "camera_id", cameraID, "error", err)
	}
}

func triggerName(manual bool) string {
	if manual {
		return "manual"
	}
	return "auto"
}

func upstreamErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrAuth):
		return "upstream authentication failed"
	case errors.Is(err, models.ErrUpstreamNetwork):
		return "stream provider unreachable"
	default:
		return "stream provider request failed"
	}
}

func startFailureMessage(resp *upstream.StartStreamResponse) string {
	switch {
	case resp.Failed() && resp.Message != "":
		return fmt.Sprintf("stream provider returned %d: %s", resp.HTTPStatus, resp.Message)
	case resp.Failed():
		return fmt.Sprintf("stream provider returned %d", resp.HTTPStatus)
	case resp.Message != "":
		return resp.Message
	default:
		return fmt.Sprintf("stream provider reported status %q", resp.Status)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
