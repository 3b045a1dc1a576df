// Package tools defines the agent-facing tools. The agent plans over exactly
// two: execute_sql runs read-only SQL against the review store, list_tables
// exposes the schema. Tools follow the eino invokable-tool contract so their
// definitions bind directly to the chat model.
package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry holds the agent's tools keyed by name and exposes their
// definitions for model binding.
type Registry struct {
	tools map[string]tool.InvokableTool
	order []string
}

// NewRegistry builds a registry from the given tools. Duplicate names panic:
// tool wiring is static and a collision is a programming error.
func NewRegistry(ts ...tool.InvokableTool) *Registry {
	r := &Registry{tools: make(map[string]tool.InvokableTool, len(ts))}
	for _, t := range ts {
		info, err := t.Info(context.Background())
		if err != nil {
			panic(fmt.Sprintf("tools: tool info: %v", err))
		}
		if _, exists := r.tools[info.Name]; exists {
			panic(fmt.Sprintf("tools: duplicate tool %q", info.Name))
		}
		r.tools[info.Name] = t
		r.order = append(r.order, info.Name)
	}
	return r
}

// Infos returns the tool definitions in registration order, for binding to
// the chat model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tools: info for %q: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Invoke dispatches a tool call by name. An unknown name is an error the
// caller feeds back to the model rather than a fatal condition.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
	return t.InvokableRun(ctx, argumentsJSON)
}
