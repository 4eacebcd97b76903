package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the canonical lifecycle state of a camera stream.
type StreamStatus string

const (
	StreamStatusIdle     StreamStatus = "idle"
	StreamStatusStarting StreamStatus = "starting"
	StreamStatusLive     StreamStatus = "live"
	StreamStatusStopping StreamStatus = "stopping"
	StreamStatusStopped  StreamStatus = "stopped"
	StreamStatusError    StreamStatus = "error"
)

// Valid reports whether s is one of the known lifecycle states.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamStatusIdle, StreamStatusStarting, StreamStatusLive,
		StreamStatusStopping, StreamStatusStopped, StreamStatusError:
		return true
	}
	return false
}

// NotStreaming reports whether the camera is in one of the equivalent
// "not streaming" states.
func (s StreamStatus) NotStreaming() bool {
	return s == StreamStatusIdle || s == StreamStatusStopped
}

// NormalizeUpstreamStatus maps the provider's status vocabulary onto
// StreamStatus. Unknown values always degrade to StreamStatusError.
func NormalizeUpstreamStatus(raw string) StreamStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "playing", "ok", "ready", "active", "live":
		return StreamStatusLive
	case "pending", "buffering", "connecting", "starting":
		return StreamStatusStarting
	case "ended", "idle", "stopped":
		return StreamStatusStopped
	default:
		return StreamStatusError
	}
}

// StreamState is the subset of a camera record owned by the orchestrator.
// It is always written as a whole.
type StreamState struct {
	Status        StreamStatus
	StreamID      *string
	HLSURL        *string
	LastError     string
	LastHeartbeat *time.Time
}

// Normalize clears fields that must not be set in the current status:
// stream_id only while starting or live, hls_url only while live.
func (s StreamState) Normalize() StreamState {
	if s.Status != StreamStatusStarting && s.Status != StreamStatusLive {
		s.StreamID = nil
	}
	if s.Status != StreamStatusLive {
		s.HLSURL = nil
	}
	if s.StreamID != nil && *s.StreamID == "" {
		s.StreamID = nil
	}
	if s.HLSURL != nil && *s.HLSURL == "" {
		s.HLSURL = nil
	}
	return s
}

// StatusEvent is published whenever a camera's stream state is committed.
type StatusEvent struct {
	CameraID  uuid.UUID    `json:"camera_id"`
	Status    StreamStatus `json:"status"`
	StreamID  string       `json:"stream_id,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Trigger   string       `json:"trigger,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
