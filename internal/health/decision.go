// Package health sweeps every camera, classifies its stream and restarts
// the ones that are failed or stuck.
package health

import (
	"time"

	"github.com/your-org/streamcore/internal/models"
)

const (
	MinCameraAge      = 30 * time.Second
	HeartbeatMaxAge   = 10 * time.Minute
	StartingMaxPeriod = 3 * time.Minute
)

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Action string

const (
	ActionSkip    Action = "skip"
	ActionRestart Action = "restart"
	ActionNone    Action = "none"
)

// Condition is the reporting bucket of a camera, independent of the action.
type Condition string

const (
	ConditionHealthy Condition = "healthy"
	ConditionFailed  Condition = "failed"
	ConditionOther   Condition = "other"
)

type Decision struct {
	Action    Action
	Severity  Severity
	Reason    string
	Condition Condition
}

// Classify applies the recovery rules to one camera. Rules are evaluated in
// order and the first match wins.
func Classify(cam models.Camera, now time.Time) Decision {
	d := Decision{Action: ActionNone, Severity: SeverityNone, Condition: condition(cam.StreamStatus)}

	if !cam.CreatedAt.IsZero() && now.Sub(cam.CreatedAt) < MinCameraAge {
		d.Action, d.Reason = ActionSkip, "camera created less than 30s ago"
		return d
	}
	if cam.IsDevice() {
		d.Action, d.Reason = ActionSkip, "device camera streams from the browser"
		return d
	}

	switch {
	case cam.StreamStatus == models.StreamStatusError:
		return d.restart(SeverityHigh, "stream is in error state")
	case cam.StreamStatus == models.StreamStatusStopped:
		return d.restart(SeverityMedium, "stream is stopped")
	case cam.LastHeartbeat != nil && now.Sub(*cam.LastHeartbeat) > HeartbeatMaxAge:
		return d.restart(SeverityHigh, "no heartbeat for over 10 minutes")
	case cam.Status == models.CameraStatusActive && cam.StreamStatus == models.StreamStatusIdle && cam.RTSPURL != "":
		return d.restart(SeverityMedium, "active camera is not streaming")
	case cam.StreamStatus == models.StreamStatusStarting && !cam.StatusChangedAt.IsZero() &&
		now.Sub(cam.StatusChangedAt) > StartingMaxPeriod:
		return d.restart(SeverityMedium, "stream stuck in starting for over 3 minutes")
	}
	return d
}

func (d Decision) restart(sev Severity, reason string) Decision {
	d.Action, d.Severity, d.Reason = ActionRestart, sev, reason
	return d
}

func condition(s models.StreamStatus) Condition {
	switch s {
	case models.StreamStatusLive:
		return ConditionHealthy
	case models.StreamStatusError, models.StreamStatusStopped:
		return ConditionFailed
	default:
		return ConditionOther
	}
}
