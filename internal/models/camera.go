package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CameraType string

const (
	CameraTypeRTSP       CameraType = "rtsp"
	CameraTypeIP         CameraType = "ip"
	CameraTypeAnalog     CameraType = "analog"
	CameraTypeDevice     CameraType = "device_camera"
	CameraTypePublicFeed CameraType = "public_feed"
)

// CameraStatus is the operator-controlled enablement flag.
type CameraStatus string

const (
	CameraStatusActive   CameraStatus = "active"
	CameraStatusInactive CameraStatus = "inactive"
)

type Camera struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	OrgID           string       `json:"org_id" db:"org_id"`
	Name            string       `json:"name" db:"name"`
	RTSPURL         string       `json:"rtsp_url" db:"rtsp_url"`
	CameraType      CameraType   `json:"camera_type" db:"camera_type"`
	Status          CameraStatus `json:"status" db:"status"`
	StreamStatus    StreamStatus `json:"stream_status" db:"stream_status"`
	StreamID        *string      `json:"stream_id" db:"stream_id"`
	HLSURL          *string      `json:"hls_url" db:"hls_url"`
	LastHeartbeat   *time.Time   `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	LastError       string       `json:"last_error,omitempty" db:"last_error"`
	HealthScore     float64      `json:"health_score" db:"health_score"`
	StatusChangedAt time.Time    `json:"status_changed_at" db:"status_changed_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// IsDevice reports whether the camera is captured in the browser and
// never goes through the upstream provider.
func (c *Camera) IsDevice() bool {
	return c.CameraType == CameraTypeDevice
}

// CurrentStreamID returns the stored upstream stream handle, or "".
func (c *Camera) CurrentStreamID() string {
	if c.StreamID == nil {
		return ""
	}
	return *c.StreamID
}

// CurrentHLSURL returns the stored upstream manifest URL, or "".
func (c *Camera) CurrentHLSURL() string {
	if c.HLSURL == nil {
		return ""
	}
	return *c.HLSURL
}

// StreamCallbackLog is one append-only audit row: a health check, a restart
// attempt, or an upstream callback.
type StreamCallbackLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	CameraID  *uuid.UUID      `json:"camera_id,omitempty" db:"camera_id"`
	StreamID  *string         `json:"stream_id,omitempty" db:"stream_id"`
	Status    string          `json:"status" db:"status"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Callback log statuses.
const (
	LogStatusHealthCheck    = "health_check"
	LogStatusRestartOK      = "restart_succeeded"
	LogStatusRestartFailed  = "restart_failed"
	LogStatusRestartSkipped = "restart_skipped"
	LogStatusCallback       = "upstream_callback"
)
