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

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// DecodeStatus parses a status event payload.
func DecodeStatus(data []byte) (models.StatusEvent, error) {
	var evt models.StatusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("decode status event: %w", err)
	}
	return evt, nil
}

// ConsumeStatus delivers new camera status events to handler. Used by the API
// to fan events out to websocket clients, including transitions made by a
// standalone monitor process.
func (c *Consumer) ConsumeStatus(ctx context.Context, consumerName string, handler func(context.Context, models.StatusEvent) error) error {
	return c.consume(ctx, StatusStreamName, StatusSubjectBase+".>", consumerName, func(ctx context.Context, msg jetstream.Msg) error {
		evt, err := DecodeStatus(msg.Data())
		if err != nil {
			// poison message, do not redeliver
			slog.Warn("dropping malformed status event", "subject", msg.Subject(), "error", err)
			return nil
		}
		return handler(ctx, evt)
	})
}

// ConsumeSweeps delivers raw sweep summaries to handler.
func (c *Consumer) ConsumeSweeps(ctx context.Context, consumerName string, handler MessageHandler) error {
	return c.consume(ctx, HealthStreamName, HealthSubjectBase+".>", consumerName, handler)
}

func (c *Consumer) consume(ctx context.Context, streamName, filter, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: filter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch messages", "stream", streamName, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process message", "stream", streamName, "subject", msg.Subject(), "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("consumer started", "stream", streamName, "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
