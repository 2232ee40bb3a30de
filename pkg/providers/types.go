package providers

import "context"

// Message is one role-tagged entry in a completion request.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []RawToolCall `json:"tool_calls,omitempty"`
}

// RawToolCall is the wire form of an assistant tool-call entry.
type RawToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises one callable tool to the completion service.
type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

type ToolFunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a parsed tool invocation request from a completion response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Response is the parsed result of one completion call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Provider is the completion-service client consumed by the orchestrator.
// A nil tools slice requests a plain completion with no tool catalog.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
}
