package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/capitalize-ai/toolbot/internal/model"
)

func weatherTool(id uint, name string) model.ApiTool {
	return model.ApiTool{
		ID:          id,
		ApiID:       1,
		Name:        name,
		Description: "Current weather for a location",
		Method:      "GET",
		Path:        "/current.json",
		ToolConfig: datatypes.JSON(`{
			"inputSchema": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]},
			"mapping": {"query": {"q": "location"}}
		}`),
	}
}

func TestMergeFirstRegistrationWins(t *testing.T) {
	command, errs := FromApiTools([]model.ApiTool{weatherTool(1, "Current Weather")})
	require.Empty(t, errs)
	bot, errs := FromApiTools([]model.ApiTool{weatherTool(2, "Current Weather"), weatherTool(3, "Forecast")})
	require.Empty(t, errs)

	set := Merge(ActionDefinitions(), command, bot)

	assert.Equal(t, len(Actions())+2, set.Len())
	def, ok := set.Get("Current Weather")
	require.True(t, ok)
	assert.Equal(t, uint(1), def.Tool.ID, "command-level tool registered first must win")

	def, ok = set.Get("sendTextMessage")
	require.True(t, ok)
	assert.Equal(t, KindAction, def.Kind)
}

func TestMergeActionNameCannotBeShadowed(t *testing.T) {
	shadow, errs := FromApiTools([]model.ApiTool{weatherTool(9, "sendTextMessage")})
	require.Empty(t, errs)

	set := Merge(ActionDefinitions(), shadow)

	def, ok := set.Get("sendTextMessage")
	require.True(t, ok)
	assert.Equal(t, KindAction, def.Kind)
}

func TestFromApiToolsSkipsBrokenConfig(t *testing.T) {
	broken := weatherTool(5, "Broken")
	broken.ToolConfig = datatypes.JSON(`{"error": {"value": "x"}}`)

	defs, errs := FromApiTools([]model.ApiTool{broken, weatherTool(6, "Ok")})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrInvalidConfig)
	require.Len(t, defs, 1)
	assert.Equal(t, "Ok", defs[0].Name)
}

func TestSerializeAnthropic(t *testing.T) {
	api, _ := FromApiTools([]model.ApiTool{weatherTool(1, "Current Weather")})
	m, err := Merge(api).Serialize(model.ProviderAnthropic)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"name": "Current Weather",
		"description": "Current weather for a location",
		"input_schema": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]}
	}]`, string(data))
}

func TestSerializeOpenAI(t *testing.T) {
	api, _ := FromApiTools([]model.ApiTool{weatherTool(1, "Current Weather")})
	m, err := Merge(api).Serialize(model.ProviderOpenAI)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"type": "function",
		"name": "Current Weather",
		"description": "Current weather for a location",
		"parameters": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]},
		"strict": false
	}]`, string(data))
}

func TestSerializeGeminiEmptyPropertiesAndRequired(t *testing.T) {
	tool := weatherTool(1, "Ping")
	tool.ToolConfig = datatypes.JSON(`{"inputSchema": {"type": "object", "properties": []}}`)
	api, errs := FromApiTools([]model.ApiTool{tool})
	require.Empty(t, errs)

	m, err := Merge(api).Serialize(model.ProviderGemini)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"functionDeclarations": [{
		"name": "Ping",
		"description": "Current weather for a location",
		"parameters": {"type": "object", "properties": {}, "required": []}
	}]}]`, string(data))
}

func TestSerializeGeminiWithoutTools(t *testing.T) {
	m, err := Merge().Serialize(model.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Nil(t, m.Gemini)
}

func TestSerializeIsDeterministic(t *testing.T) {
	api, _ := FromApiTools([]model.ApiTool{weatherTool(1, "Current Weather"), weatherTool(2, "Forecast")})

	for _, provider := range []model.Provider{model.ProviderAnthropic, model.ProviderOpenAI, model.ProviderGemini} {
		first, err := Merge(ActionDefinitions(), api).Serialize(provider)
		require.NoError(t, err)
		second, err := Merge(ActionDefinitions(), api).Serialize(provider)
		require.NoError(t, err)

		a, err := json.Marshal(first)
		require.NoError(t, err)
		b, err := json.Marshal(second)
		require.NoError(t, err)
		assert.Equal(t, a, b, "provider %s", provider)
	}
}

func TestSerializeUnknownProvider(t *testing.T) {
	_, err := Merge().Serialize(model.Provider("mistral"))
	assert.Error(t, err)
}
