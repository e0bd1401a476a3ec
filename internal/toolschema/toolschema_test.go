package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/content"
)

var weatherSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"location": {"type": "string"},
		"units": {"type": "string", "enum": ["celsius", "fahrenheit"]}
	},
	"required": ["location", "units"],
	"additionalProperties": false
}`)

func weatherConfig() *content.ToolCallConfig {
	return &content.ToolCallConfig{Tools: []content.ToolDefinition{
		{Name: "get_temperature", Description: "look up weather", Schema: weatherSchema},
	}}
}

func TestValidateToolCallValidArguments(t *testing.T) {
	call := &content.ToolCallBlock{ID: "call_1", Name: "get_temperature", Arguments: `{"location":"Brooklyn","units":"celsius"}`}
	out := ValidateToolCall(weatherConfig(), call)

	require.NotNil(t, out.Name)
	assert.Equal(t, "get_temperature", *out.Name)
	assert.JSONEq(t, call.Arguments, string(out.Arguments))
	assert.Equal(t, call.Name, out.RawName)
	assert.Equal(t, call.Arguments, out.RawArguments)
}

func TestValidateToolCallUnknownToolNameLeavesNameNil(t *testing.T) {
	call := &content.ToolCallBlock{ID: "call_1", Name: "not_configured", Arguments: `{}`}
	out := ValidateToolCall(weatherConfig(), call)

	assert.Nil(t, out.Name)
	assert.Nil(t, out.Arguments)
	assert.Equal(t, "not_configured", out.RawName)
}

func TestValidateToolCallSchemaMismatchLeavesNameAndArgumentsNil(t *testing.T) {
	call := &content.ToolCallBlock{ID: "call_1", Name: "get_temperature", Arguments: `{"location":"Brooklyn"}`}
	out := ValidateToolCall(weatherConfig(), call)

	assert.Nil(t, out.Name)
	assert.Nil(t, out.Arguments)
	assert.Equal(t, call.Arguments, out.RawArguments)
}

func TestValidateToolCallInvalidJSONLeavesNameAndArgumentsNil(t *testing.T) {
	call := &content.ToolCallBlock{ID: "call_1", Name: "get_temperature", Arguments: `not json`}
	out := ValidateToolCall(weatherConfig(), call)

	assert.Nil(t, out.Name)
	assert.Nil(t, out.Arguments)
}

func TestValidateJSONOutputSuccess(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`)
	out := ValidateJSONOutput(`{"answer":"Hello"}`, schema)
	require.NotNil(t, out.Parsed)
	assert.JSONEq(t, `{"answer":"Hello"}`, string(out.Parsed))
}

func TestValidateJSONOutputPlainProseLeavesParsedNil(t *testing.T) {
	out := ValidateJSONOutput("I'm not sure, sorry!", nil)
	assert.Nil(t, out.Parsed)
	assert.Equal(t, "I'm not sure, sorry!", out.Raw)
}

func TestValidateJSONOutputSchemaMismatchLeavesParsedNil(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"answer":{"type":"string"}},"required":["answer"]}`)
	out := ValidateJSONOutput(`{"wrong_field":"x"}`, schema)
	assert.Nil(t, out.Parsed)
	assert.Equal(t, `{"wrong_field":"x"}`, out.Raw)
}

func TestValidateSchemaRejectsMalformedSchema(t *testing.T) {
	err := ValidateSchema(json.RawMessage(`{"type": "not-a-real-type"}`))
	assert.Error(t, err)
}

func TestValidateSchemaAcceptsWellFormedSchema(t *testing.T) {
	err := ValidateSchema(weatherSchema)
	assert.NoError(t, err)
}
