package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/toolbot/internal/model"
	"github.com/capitalize-ai/toolbot/pkg/logger"
)

// Publisher fans audit events out to external collaborators.
type Publisher interface {
	Publish(ctx context.Context, event *model.AuditEvent) error
}

// NopPublisher drops every event. It is used when NATS is not configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, *model.AuditEvent) error { return nil }

// publish sends an event and logs failures. Audit fan-out never fails a turn.
func publish(ctx context.Context, p Publisher, log *logger.Logger, event *model.AuditEvent) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Warn("failed to publish audit event",
			zap.String("type", string(event.Type)),
			zap.Uint("record_id", event.RecordID),
			zap.Error(err),
		)
	}
}
