// Package bus provides event bus implementations for Harrier.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// TraceIDKey is the message metadata key carrying the publisher's trace id.
const TraceIDKey = "trace_id"

// New creates a new event bus based on configuration.
// "channel" delivers in process, "nats" connects to a NATS server and
// "embedded" starts one in process first.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "embedded":
		return NewEmbeddedBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := make(map[string]string, 1)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		md[TraceIDKey] = sc.TraceID().String()
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// dispatch runs one handler invocation. Errors and panics are logged so a
// bad message never stops the subscription.
func dispatch(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusMessages.WithLabelValues(msg.Topic, "failed").Inc()
			slog.Error("handler panic",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"trace_id", msg.Metadata[TraceIDKey],
				"panic", r,
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		metrics.BusMessages.WithLabelValues(msg.Topic, "failed").Inc()
		slog.Error("handler error",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"trace_id", msg.Metadata[TraceIDKey],
			"error", err,
		)
		return
	}
	metrics.BusMessages.WithLabelValues(msg.Topic, "handled").Inc()
}
