package processing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/qrtrail/scanhistory/pkg/history"
	"github.com/qrtrail/scanhistory/pkg/scanning"
)

// Recorder is the history dependency used by the handler.
type Recorder interface {
	Add(ctx context.Context, data, typ string, loc *scanning.Location) (scanning.Record, history.Durability)
}

// DLQPublisher publishes malformed messages to a dead-letter topic.
type DLQPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message, reason string) error
}

// PubSubDLQPublisher implements DLQPublisher using a Pub/Sub topic.
type PubSubDLQPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubDLQPublisher constructs a DLQ publisher for the given topic. If the
// topic is nil, publishes are treated as no-ops.
func NewPubSubDLQPublisher(topic *pubsub.Topic) *PubSubDLQPublisher {
	return &PubSubDLQPublisher{topic: topic}
}

// Publish sends the message to the DLQ topic. If topic is nil, it is a no-op.
func (p *PubSubDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	if p.topic == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	attempt := 0
	if msg.DeliveryAttempt != nil {
		attempt = *msg.DeliveryAttempt
	}
	_, err := p.topic.Publish(ctx, &pubsub.Message{
		Data: msg.Data,
		Attributes: map[string]string{
			"reason":           reason,
			"orig_msg_id":      msg.ID,
			"delivery_attempt": strconv.Itoa(attempt),
		},
	}).Get(ctx)
	return err
}

// NoopDLQPublisher is used when no DLQ topic is configured.
type NoopDLQPublisher struct{}

func (n *NoopDLQPublisher) Publish(ctx context.Context, msg *pubsub.Message, reason string) error {
	return nil
}

// Handler turns capture messages into history entries.
type Handler struct {
	recorder Recorder
	dlq      DLQPublisher
	logger   *slog.Logger
}

// NewHandler wires a handler. A nil dlq or logger gets a no-op default.
func NewHandler(recorder Recorder, dlq DLQPublisher, logger *slog.Logger) *Handler {
	if dlq == nil {
		dlq = &NoopDLQPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{recorder: recorder, dlq: dlq, logger: logger}
}

// HandleMessage processes a Pub/Sub message and returns true if it should be
// acked (even when sent to DLQ) or false to Nack (for retriable errors).
func (h *Handler) HandleMessage(ctx context.Context, msg *pubsub.Message) bool {
	capture, err := ParseCaptureMessage(msg.Data)
	if err != nil {
		h.logger.Warn("pushing message to DLQ", "msg_id", msg.ID, "err", err)
		if err := h.dlq.Publish(ctx, msg, "parse_error"); err != nil {
			h.logger.Error("error publishing to DLQ", "msg_id", msg.ID, "err", err)
			return false
		}
		return true
	}

	rec, durability := h.recorder.Add(ctx, *capture.Data, *capture.Type, capture.Location)
	if durability != history.Persisted {
		h.logger.Warn("scan not persisted, requesting redelivery", "msg_id", msg.ID, "id", rec.ID)
		return false
	}

	h.logger.Info("scan recorded", "msg_id", msg.ID, "id", rec.ID, "located", rec.HasLocation())
	return true
}
