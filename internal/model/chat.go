package model

import (
	"time"

	"gorm.io/datatypes"
)

// Chat is a long-lived conversation with one external chat.
type Chat struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	BotID          uint      `gorm:"not null;uniqueIndex:idx_chat_bot_external" json:"bot_id"`
	ExternalChatID int64     `gorm:"not null;uniqueIndex:idx_chat_bot_external" json:"external_chat_id"`
	ConversationID string    `gorm:"size:64;not null;index" json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (Chat) TableName() string { return "chats" }

// Update is one inbound platform event. Re-deliveries of the same update id are rejected.
type Update struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	BotID            uint           `gorm:"not null;uniqueIndex:idx_update_bot_external" json:"bot_id"`
	ExternalUpdateID int64          `gorm:"not null;uniqueIndex:idx_update_bot_external" json:"external_update_id"`
	ChatID           uint           `gorm:"not null;index" json:"chat_id"`
	UserID           int64          `gorm:"not null" json:"user_id"`
	Text             string         `gorm:"type:text" json:"text"`
	Payload          datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TableName pins the table name.
func (Update) TableName() string { return "updates" }
