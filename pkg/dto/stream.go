package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StreamControlRequest is the body of /stream/start and /stream/stop.
type StreamControlRequest struct {
	CameraID      string `json:"camera_id"`
	ManualTrigger bool   `json:"manual_trigger"`
}

type StartStreamResponse struct {
	Success        bool   `json:"success"`
	Status         string `json:"status"`
	StreamID       string `json:"stream_id"`
	ReturnedHLSURL string `json:"returned_hls_url"`
	ProxyURL       string `json:"proxy_url"`
	ManualTrigger  bool   `json:"manual_trigger"`
	Error          string `json:"error,omitempty"`
}

type StopStreamResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	ManualTrigger bool   `json:"manual_trigger"`
	Error         string `json:"error,omitempty"`
}

// StreamCallbackRequest is pushed by the stream provider on status changes.
// Providers name the manifest field differently; any one of them is used.
type StreamCallbackRequest struct {
	CameraID    string `json:"camera_id"`
	StreamID    string `json:"stream_id"`
	Status      string `json:"status"`
	HLSURL      string `json:"hls_url"`
	ManifestURL string `json:"manifest_url"`
	PlaybackURL string `json:"playback_url"`
	Error       string `json:"error"`
}

type StreamCallbackResponse struct {
	Status string `json:"status"`
}

type CameraStreamResponse struct {
	CameraID        uuid.UUID  `json:"camera_id"`
	Name            string     `json:"name"`
	CameraType      string     `json:"camera_type"`
	StreamStatus    string     `json:"stream_status"`
	StreamID        string     `json:"stream_id,omitempty"`
	ProxyURL        string     `json:"proxy_url"`
	HasManifest     bool       `json:"has_manifest"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	OperationActive bool       `json:"operation_in_progress"`
}

type CallbackLogResponse struct {
	ID        uuid.UUID       `json:"id"`
	StreamID  string          `json:"stream_id,omitempty"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

type CallbackLogListResponse struct {
	Logs  []CallbackLogResponse `json:"logs"`
	Total int                   `json:"total"`
}
