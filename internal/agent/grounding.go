package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aqzhen/Revu/internal/logging"
)

// groundingBodyLimit caps how many review bodies are fetched per retrieval.
const groundingBodyLimit = 10

// reviewIDsFromResult pulls distinct review_id values out of an execute_sql
// result, preserving row order.
func reviewIDsFromResult(result string) []int64 {
	var res struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := json.Unmarshal([]byte(result), &res); err != nil {
		return nil
	}
	col := -1
	for i, c := range res.Columns {
		if c == "review_id" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, row := range res.Rows {
		if col >= len(row) {
			continue
		}
		// JSON numbers decode as float64.
		f, ok := row[col].(float64)
		if !ok {
			continue
		}
		id := int64(f)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) == groundingBodyLimit {
			break
		}
	}
	return ids
}

// groundingContext fetches the full bodies of the reviews a retrieval just
// surfaced, so the final answer is grounded in complete review text rather
// than chunk fragments. Best effort: on any failure it returns an empty
// string and the model answers from the retrieved rows alone.
func (a *Agent) groundingContext(ctx context.Context, result string) string {
	ids := reviewIDsFromResult(result)
	if len(ids) == 0 {
		return ""
	}
	bodies, err := a.store.ReviewBodies(ctx, ids)
	if err != nil {
		logging.FromContext(ctx).Warn("grounding fetch failed", "error", err)
		return ""
	}
	if len(bodies) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Full review bodies for grounding (summarize, do not quote verbatim):\n")
	for _, id := range ids {
		body, ok := bodies[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "review %d: %s\n", id, body)
	}
	return b.String()
}
