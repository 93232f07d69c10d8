package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"shopops/internal/logging"
)

// Registry maps tool names to their implementations. Tools are registered at
// startup and then read concurrently by assistant turns.
//
// The schema the model sees is the one stored with the tool definition, not
// the implementation's. Check decides whether a stored schema can drive an
// implementation, and Call validates arguments against the stored schema.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds an implementation. Names are unique.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	logging.ToolsDebug("Registered tool: %s (%d params)", tool.Name, len(tool.Schema.Properties))
	return nil
}

// MustRegister registers a built-in tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

func (r *Registry) lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Check reports whether the declared schema of a stored definition named
// name can drive the registered implementation. It returns ErrToolNotFound
// when nothing is registered under name, and ErrSchemaConflict when
// arguments valid for the declared schema could be wrong for the
// implementation: an unknown parameter, a different type, or a parameter the
// implementation requires that the declaration leaves optional.
func (r *Registry) Check(name string, declared ToolSchema) error {
	tool, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	var problems []string
	for pname, dp := range declared.Properties {
		ip, known := tool.Schema.Properties[pname]
		switch {
		case !known:
			problems = append(problems, fmt.Sprintf("%s is not a parameter", pname))
		case !sameType(dp, ip):
			problems = append(problems, fmt.Sprintf("%s is %s, implementation takes %s", pname, typeName(dp), typeName(ip)))
		}
	}
	declaredRequired := make(map[string]bool, len(declared.Required))
	for _, req := range declared.Required {
		declaredRequired[req] = true
	}
	for _, req := range tool.Schema.Required {
		if !declaredRequired[req] {
			problems = append(problems, fmt.Sprintf("%s must be required", req))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s: %v", ErrSchemaConflict, name, problems)
	}
	return nil
}

// Call validates args against the declared schema and runs the implementation
// registered under name. A nil args map is a call without arguments.
func (r *Registry) Call(ctx context.Context, name string, declared ToolSchema, args map[string]any) (*ToolResult, error) {
	tool, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	if err := validateArgs(declared, args); err != nil {
		logging.ToolsWarn("Rejected call to %s: %v", name, err)
		return &ToolResult{ToolName: name, Error: err}, err
	}

	result, err := tool.Execute(ctx, args)
	elapsed := time.Since(start)
	if err != nil {
		logging.ToolsWarn("Tool %s failed after %v: %v", name, elapsed, err)
	} else {
		logging.ToolsDebug("Tool %s completed in %v", name, elapsed)
	}
	return &ToolResult{ToolName: name, Result: result, Error: err, DurationMs: elapsed.Milliseconds()}, err
}

func sameType(a, b Property) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Items == nil || b.Items == nil {
		return a.Items == nil && b.Items == nil
	}
	return sameType(*a.Items, *b.Items)
}

func typeName(p Property) string {
	if p.Items != nil {
		return p.Type + " of " + typeName(*p.Items)
	}
	return p.Type
}

// validateArgs checks required arguments and the types of declared ones.
// Undeclared arguments pass through untouched.
func validateArgs(schema ToolSchema, args map[string]any) error {
	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	for name, v := range args {
		p, ok := schema.Properties[name]
		if !ok || v == nil {
			continue
		}
		if !checkType(p.Type, v) {
			return fmt.Errorf("%w: %s must be %s", ErrInvalidArgType, name, p.Type)
		}
	}
	return nil
}
