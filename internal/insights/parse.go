package insights

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aqzhen/Revu/internal/store"
)

// ParseError means the model's output could not be turned into a valid
// category list even after repair. Raw carries the offending output for
// logging; it is never served to a caller.
type ParseError struct {
	// Raw is the unmodified model output.
	Raw string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string { return fmt.Sprintf("insights: parse model output: %v", e.Err) }

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ParseError) Unwrap() error { return e.Err }

// extractJSONArray pulls the first top-level JSON array out of raw. Models
// routinely wrap JSON in prose or markdown fences; everything outside the
// outermost brackets is discarded.
func extractJSONArray(raw string) (string, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON array found")
	}
	return raw[start : end+1], nil
}

// modelCategory is the JSON shape the model emits: question text only. The
// store's user and query ids are restored by matching each emitted text back
// to the input rows.
type modelCategory struct {
	Category    string   `json:"category"`
	Queries     []string `json:"queries"`
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions"`
}

// parseCategories decodes, validates, and repairs the model's category
// output against the input query rows:
//
//   - categories with an empty name or no queries are dropped
//   - each mention of a question text consumes one unconsumed input row (in
//     query id order), so two users asking identical text stay two entries
//   - invented questions and mentions beyond the input count are dropped
//   - categories beyond maxCategories fold their questions into UNCATEGORIZED
//   - input rows the model never assigned land in UNCATEGORIZED
//
// The result covers every input row exactly once, ids intact. If nothing
// valid survives, a *ParseError is returned.
func parseCategories(raw string, input []store.Query, maxCategories int) ([]Category, error) {
	extracted, err := extractJSONArray(raw)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	var decoded []modelCategory
	if err := json.Unmarshal([]byte(extracted), &decoded); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}

	// Unconsumed input rows per question text, in input (query id) order.
	remaining := make(map[string][]store.Query, len(input))
	for _, q := range input {
		remaining[q.Query] = append(remaining[q.Query], q)
	}
	take := func(text string) (QueryRef, bool) {
		rows := remaining[text]
		if len(rows) == 0 {
			return QueryRef{}, false
		}
		remaining[text] = rows[1:]
		return QueryRef{UserID: rows[0].UserID, QueryID: rows[0].QueryID, Query: rows[0].Query}, true
	}

	var kept []Category
	var overflow []QueryRef
	for _, c := range decoded {
		if strings.TrimSpace(c.Category) == "" || len(c.Queries) == 0 {
			continue
		}
		var refs []QueryRef
		for _, text := range c.Queries {
			ref, ok := take(text)
			if !ok {
				// Invented question, or more mentions than input rows.
				continue
			}
			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			continue
		}
		if len(kept) >= maxCategories {
			overflow = append(overflow, refs...)
			continue
		}
		kept = append(kept, Category{
			Category:    c.Category,
			Queries:     refs,
			Summary:     c.Summary,
			Suggestions: c.Suggestions,
		})
	}
	if len(kept) == 0 {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("no valid categories after repair")}
	}

	// Completeness: every input row ends up somewhere. Draining the map by
	// walking the input again picks up each unassigned row exactly once.
	leftover := overflow
	for _, q := range input {
		if ref, ok := take(q.Query); ok {
			leftover = append(leftover, ref)
		}
	}
	if len(leftover) > 0 {
		kept = append(kept, Category{
			Category: UncategorizedName,
			Queries:  leftover,
			Summary:  "Questions that could not be assigned to a theme.",
		})
	}
	return kept, nil
}

// extractJSONStrings decodes a model response expected to be a JSON array of
// strings, tolerating surrounding prose.
func extractJSONStrings(raw string) ([]string, error) {
	extracted, err := extractJSONArray(raw)
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	var out []string
	if err := json.Unmarshal([]byte(extracted), &out); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	var clean []string
	for _, s := range out {
		if strings.TrimSpace(s) != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("empty string array")}
	}
	return clean, nil
}
