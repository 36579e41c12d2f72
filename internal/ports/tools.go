package ports

import (
	"context"
	"fmt"
	"strings"
)

// Category is the closed set of tool categories.
type Category string

const (
	CategoryDiscovery       Category = "discovery"
	CategoryCoreOperations  Category = "core-operations"
	CategoryVideoCreation   Category = "video-creation"
	CategoryStudioMgmt      Category = "studio-management"
	CategoryVoiceGeneration Category = "voice-generation"
	CategorySoundEffects    Category = "sound-effects"
	CategoryImageGeneration Category = "image-generation"
	CategoryMaintenance     Category = "maintenance"
)

// AllCategories lists every valid category in listing order.
func AllCategories() []Category {
	return []Category{
		CategoryDiscovery,
		CategoryCoreOperations,
		CategoryVideoCreation,
		CategoryStudioMgmt,
		CategoryVoiceGeneration,
		CategorySoundEffects,
		CategoryImageGeneration,
		CategoryMaintenance,
	}
}

// ParseCategory coerces a raw string into a Category.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown tool category: %q", raw)
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

// Permanent reports whether tools of this category can never be deactivated.
func (c Category) Permanent() bool {
	return c == CategoryDiscovery
}

// ToolExecutor executes a single tool call
type ToolExecutor interface {
	// Execute runs the tool with given arguments
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// Definition returns the tool's schema for the host
	Definition() ToolDefinition

	// Metadata returns tool metadata
	Metadata() ToolMetadata
}

// ToolCall is a single invocation delivered by the broker front-end.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the structured outcome of a tool call. Error is non-nil for
// recoverable, host-visible failures; transport failures are returned as the
// second Execute return value instead.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    error          `json:"-"`
}

// ToolDefinition describes a tool for the host's list_tools view.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ParameterSchema `json:"inputSchema"`
}

// ToolMetadata carries the registry-facing attributes of a tool.
type ToolMetadata struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Category           Category `json:"category"`
	SubCategory        string   `json:"subCategory,omitempty"`
	Priority           int      `json:"priority"`      // lower = listed earlier
	ContextWeight      int      `json:"contextWeight"` // nominal token cost; 0 = estimate from definition
	Tags               []string `json:"tags,omitempty"`
	RequiredCredential string   `json:"requiredCredential,omitempty"`
	LoadByDefault      bool     `json:"loadByDefault"`
}

// ParameterSchema defines tool parameters (JSON Schema format)
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// StringArg extracts a required string argument from a call.
func (c ToolCall) StringArg(key string) (string, error) {
	raw, ok := c.Arguments[key]
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", key)
	}
	return s, nil
}

// OptionalString extracts an optional string argument, returning fallback when absent.
func (c ToolCall) OptionalString(key, fallback string) string {
	if s, ok := c.Arguments[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// OptionalInt extracts an optional integer argument. JSON numbers arrive as
// float64; both representations are accepted.
func (c ToolCall) OptionalInt(key string, fallback int) int {
	switch v := c.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// OptionalBool extracts an optional boolean argument.
func (c ToolCall) OptionalBool(key string, fallback bool) bool {
	if b, ok := c.Arguments[key].(bool); ok {
		return b
	}
	return fallback
}

// OptionalStringSlice extracts an optional []string argument.
func (c ToolCall) OptionalStringSlice(key string) []string {
	raw, ok := c.Arguments[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
