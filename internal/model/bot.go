// Package model defines persisted records and audit payloads for the bot platform.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// Provider names an LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Bot is an operator-configured chat bot backed by one provider.
type Bot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:100;not null" json:"name"`
	TelegramToken string    `gorm:"size:255;not null" json:"-"`
	WebhookSecret string    `gorm:"size:255" json:"-"`
	Provider      Provider  `gorm:"size:32;not null" json:"provider"`
	Model         string    `gorm:"size:100;not null" json:"model"`
	MaxTokens     int       `gorm:"not null;default:1024" json:"max_tokens"`
	Temperature   float64   `gorm:"not null;default:0.7" json:"temperature"`
	SystemPrompt  string    `gorm:"type:text" json:"system_prompt"`
	ShouldQueue   bool      `gorm:"not null;default:false" json:"should_queue"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	Tools         []ApiTool `gorm:"many2many:bot_tools" json:"tools,omitempty"`
	Commands      []Command `gorm:"foreignKey:BotID" json:"commands,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (Bot) TableName() string { return "bots" }

// Command is a slash command with an optional prompt override and its own tool set.
type Command struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BotID        uint      `gorm:"not null;uniqueIndex:idx_command_bot_name" json:"bot_id"`
	Name         string    `gorm:"size:64;not null;uniqueIndex:idx_command_bot_name" json:"name"`
	SystemPrompt *string   `gorm:"type:text" json:"system_prompt,omitempty"`
	Tools        []ApiTool `gorm:"many2many:command_tools" json:"tools,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName pins the table name.
func (Command) TableName() string { return "commands" }

// AuthType selects how credentials are attached to outbound tool requests.
type AuthType string

const (
	AuthNone       AuthType = "none"
	AuthBasic      AuthType = "basic"
	AuthBearer     AuthType = "bearer"
	AuthHeader     AuthType = "header"
	AuthQueryParam AuthType = "query_param"
)

// Api is a third-party HTTP API that owns one or more tools.
type Api struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"size:100;not null" json:"name"`
	URL                string         `gorm:"size:512;not null" json:"url"`
	ContentType        string         `gorm:"size:32;not null;default:'json'" json:"content_type"`
	AuthType           AuthType       `gorm:"size:32;not null;default:'none'" json:"auth_type"`
	AuthUsername       string         `gorm:"size:255" json:"-"`
	AuthPassword       string         `gorm:"size:255" json:"-"`
	AuthToken          string         `gorm:"size:1024" json:"-"`
	AuthKey            string         `gorm:"size:255" json:"auth_key,omitempty"`
	AuthValue          string         `gorm:"size:1024" json:"-"`
	Headers            datatypes.JSON `gorm:"type:json" json:"headers,omitempty"`
	RateLimitPerMinute int            `gorm:"not null;default:0" json:"rate_limit_per_minute"`
	Active             bool           `gorm:"not null;default:true" json:"active"`
	Tools              []ApiTool      `gorm:"foreignKey:ApiID" json:"tools,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TableName pins the table name.
func (Api) TableName() string { return "apis" }

// ApiTool declares one HTTP endpoint of an Api as a tool the model may call.
type ApiTool struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ApiID       uint           `gorm:"not null;index" json:"api_id"`
	Api         *Api           `gorm:"foreignKey:ApiID" json:"api,omitempty"`
	Name        string         `gorm:"size:128;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Method      string         `gorm:"size:16;not null" json:"method"`
	Path        string         `gorm:"size:512" json:"path"`
	Headers     datatypes.JSON `gorm:"type:json" json:"headers,omitempty"`
	ToolConfig  datatypes.JSON `gorm:"type:json" json:"tool_config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName pins the table name.
func (ApiTool) TableName() string { return "api_tools" }
