package model

import (
	"time"

	"gorm.io/datatypes"
)

// Role represents the role of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Stop reasons assigned by the orchestrator rather than a provider.
const (
	StopProviderError       = "provider_error"
	StopMaxToolTurnsReached = "max_tool_turns_exceeded"
)

// Message is one role-tagged turn of a conversation.
type Message struct {
	// Identity
	ID       uint  `gorm:"primaryKey" json:"id"`
	ChatID   uint  `gorm:"not null;index" json:"chat_id"`
	UpdateID *uint `gorm:"index" json:"update_id,omitempty"`

	// Content. Content holds the provider-native blocks. For assistant turns
	// that only carry tool requests it stays NULL until every request is resolved.
	Role    Role           `gorm:"size:16;not null" json:"role"`
	Text    string         `gorm:"type:text" json:"text"`
	Content datatypes.JSON `gorm:"type:json" json:"content,omitempty"`

	// LLM metadata (zero for user turns)
	Provider     Provider `gorm:"size:32" json:"provider,omitempty"`
	Model        string   `gorm:"size:100" json:"model,omitempty"`
	InputTokens  int      `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens int      `gorm:"not null;default:0" json:"output_tokens"`
	LatencyMs    int64    `gorm:"not null;default:0" json:"latency_ms"`
	StopReason   *string  `gorm:"size:64" json:"stop_reason,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (Message) TableName() string { return "messages" }

// ListResponse is a page of audit records.
type ListResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}
