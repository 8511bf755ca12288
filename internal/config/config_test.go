package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, 8, cfg.MaxToolTurns)
	assert.Equal(t, 60*time.Second, cfg.ProviderTimeout)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "3")
	t.Setenv("MAX_TOOL_TURNS", "4")
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, 10, cfg.HistoryLimit, "history window is clamped to 10..20")
	assert.Equal(t, 4, cfg.MaxToolTurns)
	assert.Equal(t, 5*time.Second, cfg.ToolTimeout)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_TOOL_TURNS", "many")
	t.Setenv("ACTION_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 8, cfg.MaxToolTurns)
	assert.Equal(t, 15*time.Second, cfg.ActionTimeout)
}

func TestLoadListValues(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.test, ,https://b.test ")

	cfg := Load()

	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 60, cfg.WebhookRateRequests)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Load().Validate())

	tests := []struct {
		name    string
		lockTTL string
		wantErr bool
	}{
		{name: "longer than webhook", lockTTL: "56s"},
		{name: "equal to webhook", lockTTL: "55s", wantErr: true},
		{name: "shorter than webhook", lockTTL: "30s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOCK_TTL", tt.lockTTL)
			err := Load().Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, "LOCK_TTL")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
