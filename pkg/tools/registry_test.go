package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	executed bool
	panics   bool
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echo the text argument." }

func (e *echoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
		},
		"required": []string{"text"},
	}
}

func (e *echoTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	e.executed = true
	if e.panics {
		panic("echo blew up")
	}
	text, _ := args["text"].(string)
	return SuccessResult(text)
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	result := reg.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NotNil(t, result)
	assert.False(t, result.IsError)
	assert.Equal(t, "hi", result.ForLLM)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	result := reg.Execute(context.Background(), "nope", nil)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "not found")
}

func TestRegistryRejectsMissingRequiredArg(t *testing.T) {
	tool := &echoTool{}
	reg := NewRegistry()
	reg.Register(tool)

	result := reg.Execute(context.Background(), "echo", map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "text")
	assert.False(t, tool.executed, "validation failure must not execute the tool")
}

func TestRegistryRejectsMistypedArg(t *testing.T) {
	tool := &echoTool{}
	reg := NewRegistry()
	reg.Register(tool)

	result := reg.Execute(context.Background(), "echo", map[string]any{"text": 42})
	assert.True(t, result.IsError)
	assert.False(t, tool.executed)

	result = reg.Execute(context.Background(), "echo", map[string]any{"text": "hi", "count": "three"})
	assert.True(t, result.IsError)
	assert.False(t, tool.executed)
}

func TestRegistryAllowsJSONNumbersForIntegers(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	result := reg.Execute(context.Background(), "echo", map[string]any{"text": "hi", "count": float64(3)})
	assert.False(t, result.IsError)
}

func TestRegistryRecoversFromPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{panics: true})

	result := reg.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.Contains(t, result.ForLLM, "panicked")
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{})

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, []string{"echo"}, reg.List())
	assert.Equal(t, 1, reg.Count())
}

func TestSanitizeToolArgsRedactsSecrets(t *testing.T) {
	out := sanitizeToolArgs(map[string]any{
		"api_key": "sk-secret",
		"text":    "hello",
	})
	assert.Equal(t, "<redacted>", out["api_key"])
	assert.Equal(t, "hello", out["text"])
}
