package model

import (
	"time"

	"gorm.io/datatypes"
)

// ToolCallStatus is the lifecycle state of a tool invocation.
// Transitions are pending -> completed and pending -> error only.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallError
}

// ToolCall is one invocation of a generic API tool requested by the model.
type ToolCall struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ChatID    uint           `gorm:"not null;index" json:"chat_id"`
	MessageID uint           `gorm:"not null;index" json:"message_id"`
	Position  int            `gorm:"not null" json:"position"`
	CallID    string         `gorm:"size:128;not null" json:"call_id"`
	Name      string         `gorm:"size:128;not null" json:"name"`
	ApiToolID *uint          `gorm:"index" json:"api_tool_id,omitempty"`
	Input     datatypes.JSON `gorm:"type:json" json:"input"`
	Output    datatypes.JSON `gorm:"type:json" json:"output,omitempty"`
	Status    ToolCallStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName pins the table name.
func (ToolCall) TableName() string { return "tool_calls" }

// TelegramLog records one outbound messaging action against the chat platform.
type TelegramLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ChatID     uint           `gorm:"not null;index" json:"chat_id"`
	MessageID  *uint          `gorm:"index" json:"message_id,omitempty"`
	Position   int            `gorm:"not null;default:0" json:"position"`
	CallID     string         `gorm:"size:128" json:"call_id,omitempty"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Method     string         `gorm:"size:64" json:"method"`
	Parameters datatypes.JSON `gorm:"type:json" json:"parameters"`
	Response   datatypes.JSON `gorm:"type:json" json:"response,omitempty"`
	LatencyMs  int64          `gorm:"not null;default:0" json:"latency_ms"`
	Success    bool           `gorm:"not null;default:false" json:"success"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName pins the table name.
func (TelegramLog) TableName() string { return "telegram_logs" }

// ApiLog records one outbound HTTP call made by the generic API executor.
type ApiLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ApiID      uint      `gorm:"not null;index" json:"api_id"`
	ApiToolID  uint      `gorm:"not null;index" json:"api_tool_id"`
	UserID     int64     `gorm:"not null;default:0" json:"user_id"`
	HTTPStatus int       `gorm:"not null;default:0" json:"http_status"`
	Response   string    `gorm:"type:text" json:"response"`
	LatencyMs  int64     `gorm:"not null;default:0" json:"latency_ms"`
	Success    bool      `gorm:"not null;default:false" json:"success"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName pins the table name.
func (ApiLog) TableName() string { return "api_logs" }
