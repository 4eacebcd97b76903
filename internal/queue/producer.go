package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/streamcore/internal/models"
)

const (
	StatusStreamName  = "CAMERA_STATUS"
	StatusSubjectBase = "camera.status"
	HealthStreamName  = "HEALTH"
	HealthSubjectBase = "health.sweep"
)

// StatusSubject is the subject a camera's status events are published on.
func StatusSubject(cameraID string) string {
	return StatusSubjectBase + "." + cameraID
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

func connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("streamcore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        StatusStreamName,
			Subjects:    []string{StatusSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Camera stream status changes",
		},
		{
			Name:        HealthStreamName,
			Subjects:    []string{HealthSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Description: "Health sweep summaries",
		},
	}
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := streamConfigs()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishStatus publishes a camera status change. The message id dedupes
// retries of the same transition.
func (p *Producer) PublishStatus(ctx context.Context, evt models.StatusEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%s-%d", evt.CameraID, evt.Status, evt.Timestamp.UnixNano())
	_, err = p.js.Publish(ctx, StatusSubject(evt.CameraID.String()), payload, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// PublishSweep publishes a health sweep summary.
func (p *Producer) PublishSweep(ctx context.Context, summary any) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal sweep summary: %w", err)
	}

	if _, err := p.js.Publish(ctx, HealthSubjectBase+".completed", payload); err != nil {
		return fmt.Errorf("publish sweep summary: %w", err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
