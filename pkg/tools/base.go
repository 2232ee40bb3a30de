package tools

import (
	"context"
	"fmt"

	"github.com/perchlabs/perch/pkg/providers"
)

// Tool is the interface that all tools must implement. Parameters returns
// a JSON-schema-shaped object map used both for pre-execution validation
// and for advertising the tool to the completion service.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ToolResult is the structured outcome of one tool execution. Failures are
// values, not raised errors; the agent loop feeds ForLLM back into context
// either way.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Err     error
}

func SuccessResult(content string) *ToolResult {
	return &ToolResult{ForLLM: content}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolToSchema renders a tool as a provider tool definition.
func ToolToSchema(tool Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		},
	}
}

// stringArg extracts a non-empty string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

// intArg extracts an optional integer argument with a default. JSON
// numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}
