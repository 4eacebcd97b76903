package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/your-org/streamcore/internal/observability"
)

// StartStreamRequest is the body of the provider's start call.
type StartStreamRequest struct {
	OrgID              string `json:"org_id"`
	CameraID           string `json:"camera_id"`
	RTSPURL            string `json:"rtsp_url"`
	CallbackURL        string `json:"callback_url"`
	PlaybackTTLSeconds int    `json:"playback_ttl_seconds"`
	LowLatency         bool   `json:"low_latency"`
}

// StartStreamResponse is the provider's answer. HTTPStatus is always set;
// the remaining fields are whatever the provider returned.
type StartStreamResponse struct {
	HTTPStatus int
	Status     string
	StreamID   string
	HLSURL     string
	Message    string
}

// Failed reports whether the provider answered with a 4xx/5xx.
func (r *StartStreamResponse) Failed() bool {
	return r.HTTPStatus >= 400
}

type startStreamBody struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	StreamID    string `json:"stream_id"`
	ID          string `json:"id"`
	HLSURL      string `json:"hls_url"`
	ManifestURL string `json:"manifest_url"`
	PlaybackURL string `json:"playback_url"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

// StartStream asks the provider to start pulling rtsp_url. Transport and
// auth failures are returned as errors; HTTP failures are reported through
// StartStreamResponse.HTTPStatus.
func (c *Client) StartStream(ctx context.Context, req StartStreamRequest, idempotencyKey string) (*StartStreamResponse, error) {
	start := time.Now()
	defer func() {
		observability.UpstreamRequestDuration.WithLabelValues("start").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.AuthFetch(ctx, http.MethodPost, "/streams/start", payload, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &StartStreamResponse{HTTPStatus: resp.StatusCode}

	var body startStreamBody
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, nil
	}
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		out.Status = firstNonEmpty(body.Status, body.State)
		out.StreamID = firstNonEmpty(body.StreamID, body.ID)
		out.HLSURL = firstNonEmpty(body.HLSURL, body.ManifestURL, body.PlaybackURL)
		out.Message = firstNonEmpty(body.Error, body.Message)
	}
	return out, nil
}

// StopStream deletes the provider-side stream and returns the HTTP status.
func (c *Client) StopStream(ctx context.Context, streamID string) (int, error) {
	start := time.Now()
	defer func() {
		observability.UpstreamRequestDuration.WithLabelValues("stop").Observe(time.Since(start).Seconds())
	}()

	resp, err := c.AuthFetch(ctx, http.MethodDelete, "/streams/"+url.PathEscape(streamID), nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
