package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/toolbot/internal/model"
)

const (
	// StreamName is the name of the audit stream.
	StreamName = "TOOLBOT_AUDIT"

	// SubjectPrefix is the prefix for all audit subjects.
	SubjectPrefix = "toolbot"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the audit stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Tool call, action and turn audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(botID, chatID uint, eventType model.EventType) string {
	return fmt.Sprintf("%s.%d.%d.%s", SubjectPrefix, botID, chatID, eventType)
}

// ChatFilter returns the filter subject for every event of a chat.
func ChatFilter(botID, chatID uint) string {
	return fmt.Sprintf("%s.%d.%d.>", SubjectPrefix, botID, chatID)
}

// Publish publishes an audit event.
func (m *StreamManager) Publish(ctx context.Context, event *model.AuditEvent) error {
	_, err := m.PublishEvent(ctx, event)
	return err
}

// PublishEvent publishes an event to JetStream and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.AuditEvent) (uint64, error) {
	subject := EventSubject(event.BotID, event.ChatID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetEvents replays the audit events of a chat starting after a sequence.
func (m *StreamManager) GetEvents(ctx context.Context, botID, chatID uint, afterSequence uint64, limit int) ([]model.AuditEvent, uint64, bool, error) {
	consumerConfig := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ChatFilter(botID, chatID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]model.AuditEvent, 0, limit)
	lastSequence := afterSequence
	for msg := range batch.Messages() {
		var event model.AuditEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, len(events) == limit, nil
}
