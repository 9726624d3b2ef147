package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"studio-schedule/internal/models"
)

const source = "studio-schedule"

// CloudEvent is the export envelope written to the topic.
type CloudEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"datacontenttype"`
	Data        json.RawMessage `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer exports session events. Messages are keyed by session id so one session's
// events stay on one partition.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Name() string {
	return "kafka"
}

func (p *Producer) Publish(ctx context.Context, ev models.SessionEvent, msg []byte) error {
	const op = "events.kafka.Publish"

	ce := newCloudEvent(ev, msg)

	value, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ce.Subject),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(ce.ID)},
			{Key: "ce_source", Value: []byte(ce.Source)},
			{Key: "ce_specversion", Value: []byte(ce.SpecVersion)},
			{Key: "ce_type", Value: []byte(ce.Type)},
			{Key: "ce_time", Value: []byte(ce.Time.Format(time.RFC3339))},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func newCloudEvent(ev models.SessionEvent, msg []byte) CloudEvent {
	subject := ""
	switch {
	case ev.Session != nil:
		subject = ev.Session.ID
	case len(ev.Sessions) > 0:
		subject = ev.Sessions[0].ID
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return CloudEvent{
		ID:          uuid.NewString(),
		Source:      source,
		SpecVersion: "1.0",
		Type:        "schedule." + string(ev.Type),
		Time:        ts.UTC(),
		Subject:     subject,
		ContentType: "application/json",
		Data:        msg,
	}
}
