package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perchlabs/perch/pkg/logger"
	"github.com/perchlabs/perch/pkg/providers"
)

type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute validates args against the tool's declared parameter schema and
// runs the tool. A validation failure is rejected before execution with no
// side effect attempted. Execute never panics out; every outcome is a
// ToolResult.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *ToolResult {
	logger.InfoCF("tool", "Tool execution started", map[string]any{
		"tool": name,
		"args": sanitizeToolArgs(args),
	})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]any{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	if err := validateArgs(tool.Parameters(), args); err != nil {
		logger.ErrorCF("tool", "Tool arguments rejected", map[string]any{
			"tool":  name,
			"error": err.Error(),
		})
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)).WithError(err)
	}

	start := time.Now()
	result := func() (res *ToolResult) {
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("tool %q panicked: %v", name, rec)
				logger.ErrorCF("tool", "Tool panicked", map[string]any{"tool": name, "panic": fmt.Sprintf("%v", rec)})
				res = ErrorResult(err.Error()).WithError(err)
			}
		}()
		return tool.Execute(ctx, args)
	}()
	duration := time.Since(start)

	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		logger.ErrorCF("tool", "Tool returned nil result", map[string]any{"tool": name})
		return ErrorResult(err.Error()).WithError(err)
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tool", "Tool execution completed", map[string]any{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}

	return result
}

// Definitions returns the provider-facing catalog of every registered tool,
// in stable name order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		definitions = append(definitions, ToolToSchema(r.tools[name]))
	}
	return definitions
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// validateArgs checks declared required keys and primitive types before a
// tool runs. Unknown extra keys pass through; tools ignore what they do
// not read.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required parameter %q", key)
			}
		}
	}

	for key, value := range args {
		propAny, ok := properties[key]
		if !ok {
			continue
		}
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" {
			continue
		}
		if !typeMatches(declared, value) {
			return fmt.Errorf("parameter %q must be of type %s", key, declared)
		}
	}
	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

var sensitiveArgKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"password",
	"private",
	"secret",
	"token",
}

func sanitizeToolArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]any, len(args))
	for key, value := range args {
		if isSensitiveArgKey(key) {
			sanitized[key] = "<redacted>"
			continue
		}
		if s, ok := value.(string); ok {
			sanitized[key] = truncateLogString(s)
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
