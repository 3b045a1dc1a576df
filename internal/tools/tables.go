package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/store"
)

// ListTablesTool exposes the database schema to the model: every user table
// with its CREATE statement, so generated SQL references real columns.
type ListTablesTool struct {
	store *store.Store
}

// NewListTablesTool constructs the list_tables tool.
func NewListTablesTool(s *store.Store) *ListTablesTool {
	return &ListTablesTool{store: s}
}

// Info implements tool.BaseTool.
func (t *ListTablesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        "list_tables",
		Desc:        "List all tables in the review database with their CREATE TABLE schemas.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

// tableInfo is one entry in the list_tables JSON response.
type tableInfo struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// InvokableRun implements tool.InvokableTool. The arguments are ignored —
// the tool takes no parameters.
func (t *ListTablesTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	names, err := t.store.ListTables(ctx)
	if err != nil {
		return "", fmt.Errorf("list_tables: %w", err)
	}
	infos := make([]tableInfo, 0, len(names))
	for _, name := range names {
		ddl, err := t.store.TableSchema(ctx, name)
		if err != nil {
			return "", fmt.Errorf("list_tables: schema for %q: %w", name, err)
		}
		infos = append(infos, tableInfo{Name: name, Schema: ddl})
	}
	out, err := json.Marshal(infos)
	if err != nil {
		return "", fmt.Errorf("list_tables: encode result: %w", err)
	}
	return string(out), nil
}
