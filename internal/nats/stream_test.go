package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/toolbot/internal/model"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "toolbot.3.17.tool_call", EventSubject(3, 17, model.EventToolCallDone))
	assert.Equal(t, "toolbot.3.17.provider_error", EventSubject(3, 17, model.EventProviderFailure))
}

func TestChatFilterMatchesEventSubjects(t *testing.T) {
	filter := ChatFilter(3, 17)
	assert.Equal(t, "toolbot.3.17.>", filter)

	prefix := filter[:len(filter)-1]
	for _, typ := range []model.EventType{model.EventTurnPersisted, model.EventToolCallDone, model.EventActionLogged} {
		assert.Contains(t, EventSubject(3, 17, typ), prefix)
	}
	assert.NotContains(t, EventSubject(3, 170, model.EventTurnPersisted), prefix)
}

func TestIsConnectedNilSafe(t *testing.T) {
	var c *Client
	assert.False(t, c.IsConnected())
	assert.False(t, (&Client{}).IsConnected())
}
