package health

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/streamcore/internal/models"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	base := func() models.Camera {
		return models.Camera{
			ID:              uuid.New(),
			RTSPURL:         "rtsp://cam/1",
			CameraType:      models.CameraTypeRTSP,
			Status:          models.CameraStatusActive,
			StreamStatus:    models.StreamStatusLive,
			LastHeartbeat:   ago(time.Minute),
			StatusChangedAt: now.Add(-time.Hour),
			CreatedAt:       now.Add(-24 * time.Hour),
		}
	}

	tests := []struct {
		name      string
		mutate    func(*models.Camera)
		action    Action
		severity  Severity
		condition Condition
	}{
		{"live and fresh is healthy", func(c *models.Camera) {}, ActionNone, SeverityNone, ConditionHealthy},
		{"error restarts high", func(c *models.Camera) { c.StreamStatus = models.StreamStatusError }, ActionRestart, SeverityHigh, ConditionFailed},
		{"stopped restarts medium", func(c *models.Camera) { c.StreamStatus = models.StreamStatusStopped }, ActionRestart, SeverityMedium, ConditionFailed},
		{"stopped wins over stale heartbeat", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusStopped
			c.LastHeartbeat = ago(time.Hour)
		}, ActionRestart, SeverityMedium, ConditionFailed},
		{"stale heartbeat restarts high", func(c *models.Camera) { c.LastHeartbeat = ago(11 * time.Minute) }, ActionRestart, SeverityHigh, ConditionHealthy},
		{"heartbeat at exactly 10m is fine", func(c *models.Camera) { c.LastHeartbeat = ago(10 * time.Minute) }, ActionNone, SeverityNone, ConditionHealthy},
		{"active idle with rtsp restarts medium", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusIdle
			c.LastHeartbeat = nil
		}, ActionRestart, SeverityMedium, ConditionOther},
		{"inactive idle is left alone", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusIdle
			c.Status = models.CameraStatusInactive
			c.LastHeartbeat = nil
		}, ActionNone, SeverityNone, ConditionOther},
		{"idle without rtsp is left alone", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusIdle
			c.RTSPURL = ""
			c.LastHeartbeat = nil
		}, ActionNone, SeverityNone, ConditionOther},
		{"starting for 4m restarts medium", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusStarting
			c.StatusChangedAt = now.Add(-4 * time.Minute)
		}, ActionRestart, SeverityMedium, ConditionOther},
		{"starting for 1m waits", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusStarting
			c.StatusChangedAt = now.Add(-time.Minute)
		}, ActionNone, SeverityNone, ConditionOther},
		{"new camera skipped even in error", func(c *models.Camera) {
			c.StreamStatus = models.StreamStatusError
			c.CreatedAt = now.Add(-10 * time.Second)
		}, ActionSkip, SeverityNone, ConditionFailed},
		{"device camera skipped", func(c *models.Camera) {
			c.CameraType = models.CameraTypeDevice
			c.StreamStatus = models.StreamStatusError
		}, ActionSkip, SeverityNone, ConditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := base()
			tt.mutate(&cam)
			d := Classify(cam, now)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.severity, d.Severity)
			assert.Equal(t, tt.condition, d.Condition)
			if d.Action != ActionNone {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}
