package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/aqzhen/Revu/internal/store"
)

// DefaultMaxRows caps the rows returned to the model per query. Large result
// sets blow the context window without improving answers.
const DefaultMaxRows = 50

// ExecuteSQLTool runs read-only SQL against the review store. Mutating and
// schema-changing statements are rejected before execution; execution errors
// are returned to the caller so the agent can feed them back to the model
// for a corrected query.
type ExecuteSQLTool struct {
	store   *store.Store
	maxRows int
}

// NewExecuteSQLTool constructs the execute_sql tool. maxRows <= 0 uses
// DefaultMaxRows.
func NewExecuteSQLTool(s *store.Store, maxRows int) *ExecuteSQLTool {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &ExecuteSQLTool{store: s, maxRows: maxRows}
}

// Info implements tool.BaseTool.
func (t *ExecuteSQLTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "execute_sql",
		Desc: "Execute a read-only SQL query against the review database and return the matching rows as JSON. Only SELECT (and WITH ... SELECT) statements are allowed. Use dot_product(column, '<json vector>') for similarity ranking.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The SQL SELECT statement to execute.",
				Required: true,
			},
		}),
	}, nil
}

// executeSQLArgs is the JSON argument shape for execute_sql.
type executeSQLArgs struct {
	Query string `json:"query"`
}

// sqlResult is the JSON payload returned to the model.
type sqlResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	// Truncated marks that more rows matched than were returned.
	Truncated bool `json:"truncated,omitempty"`
}

// InvokableRun implements tool.InvokableTool. The error return carries both
// validation rejections and execution failures; the agent forwards the text
// to the model as the tool result and counts the attempt.
func (t *ExecuteSQLTool) InvokableRun(ctx context.Context, argumentsJSON string, _ ...tool.Option) (string, error) {
	var args executeSQLArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("execute_sql: invalid arguments: %w", err)
	}
	if err := validateReadOnly(args.Query); err != nil {
		return "", err
	}

	cols, rows, err := t.store.QueryRows(ctx, args.Query, t.maxRows+1)
	if err != nil {
		return "", fmt.Errorf("execute_sql: %w", err)
	}

	res := sqlResult{Columns: cols, Rows: rows}
	if len(rows) > t.maxRows {
		res.Rows = rows[:t.maxRows]
		res.Truncated = true
	}
	if res.Rows == nil {
		res.Rows = [][]any{}
	}
	res.RowCount = len(res.Rows)

	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("execute_sql: encode result: %w", err)
	}
	return string(out), nil
}

// validateReadOnly rejects anything that is not a single SELECT statement.
// The first keyword must be SELECT or WITH, and for WITH the statement body
// after the CTE list must itself be a SELECT — SQLite accepts
// WITH ... INSERT/UPDATE/DELETE, so checking the first keyword alone is not
// enough. No second statement may follow a semicolon. This guards against
// model-generated DML reaching the store; it is not a general SQL firewall.
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("execute_sql: empty query")
	}

	first := strings.ToUpper(firstWord(trimmed))
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("execute_sql: only read-only SELECT queries are allowed, got %q statement", first)
	}
	if verb := statementVerb(trimmed); verb != "SELECT" {
		return fmt.Errorf("execute_sql: only read-only SELECT queries are allowed, got %q statement body", verb)
	}

	// Reject stacked statements: a semicolon may only appear at the very end.
	if i := strings.IndexByte(trimmed, ';'); i >= 0 {
		if rest := strings.TrimSpace(trimmed[i+1:]); rest != "" {
			return fmt.Errorf("execute_sql: multiple statements are not allowed")
		}
	}
	return nil
}

// firstWord returns the first whitespace- or paren-delimited token.
func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' {
			return s[:i]
		}
	}
	return s
}

// sqlVerbs are the keywords that introduce a statement body. The first one
// found at parenthesis depth zero is the statement's verb: CTE definitions
// sit inside parens, so for WITH statements this is the keyword after the
// CTE list.
var sqlVerbs = map[string]bool{
	"SELECT": true, "VALUES": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "REPLACE": true, "CREATE": true, "DROP": true,
	"ALTER": true, "PRAGMA": true, "VACUUM": true, "ATTACH": true,
	"DETACH": true, "REINDEX": true, "ANALYZE": true,
}

// statementVerb scans for the first statement-introducing keyword at the top
// parenthesis level, skipping string literals and quoted identifiers.
// Returns "" when no verb is found.
func statementVerb(query string) string {
	depth := 0
	var quote rune
	var word strings.Builder
	flush := func() string {
		w := strings.ToUpper(word.String())
		word.Reset()
		if depth == 0 && sqlVerbs[w] {
			return w
		}
		return ""
	}
	for _, r := range query {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			if v := flush(); v != "" {
				return v
			}
			quote = r
		case '(':
			if v := flush(); v != "" {
				return v
			}
			depth++
		case ')':
			if v := flush(); v != "" {
				return v
			}
			if depth > 0 {
				depth--
			}
		case ' ', '\t', '\n', '\r', ',', ';':
			if v := flush(); v != "" {
				return v
			}
		default:
			word.WriteRune(r)
		}
	}
	return flush()
}
