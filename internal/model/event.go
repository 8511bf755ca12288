package model

import (
	"time"
)

// EventType represents the type of audit event published for external collaborators.
type EventType string

const (
	EventTurnPersisted   EventType = "turn"
	EventToolCallDone    EventType = "tool_call"
	EventActionLogged    EventType = "action"
	EventProviderFailure EventType = "provider_error"
)

// AuditEvent is a compact notification that an audit record reached its final state.
type AuditEvent struct {
	ID        string         `json:"id"`
	BotID     uint           `json:"bot_id"`
	ChatID    uint           `json:"chat_id"`
	Type      EventType      `json:"type"`
	RecordID  uint           `json:"record_id"`
	Name      string         `json:"name,omitempty"`
	Status    string         `json:"status,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
