// Package tools holds the functions the assistant model may call.
//
// Tools are registered once at startup. Each stored tool definition carries
// its own parameter schema, which is parsed before the tool is offered to the
// model; a definition whose schema does not parse is left out.
package tools

import (
	"context"
)

// Property describes a single parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ToolSchema is the JSON schema of a tool's arguments. Only object schemas
// with typed top-level properties are supported.
type ToolSchema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs a tool. The result is sent back to the model as the
// function response and must be JSON encodable.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a registered implementation.
type Tool struct {
	Name        string
	Description string
	Schema      ToolSchema
	Execute     ExecuteFunc
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	ToolName   string
	Result     any
	Error      error
	DurationMs int64
}
