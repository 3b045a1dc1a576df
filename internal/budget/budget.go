// Package budget provides token budget estimation and input trimming for
// model calls. Because the service supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and SQL). This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving
	// room for the structured JSON output of the insights call.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimLines drops the oldest entries from lines until fixedTokens plus the
// estimated cost of the surviving lines fits within maxTokens. The insights
// call feeds one recorded question per line; dropping oldest-first keeps the
// most recent buyer intent when a product has more query history than the
// context window can carry.
//
// If even a single line exceeds the budget, the empty slice is returned.
func TrimLines(lines []string, fixedTokens, maxTokens int) []string {
	total := fixedTokens
	for _, l := range lines {
		// +1 for the joining newline.
		total += Estimate(l) + 1
	}
	for len(lines) > 0 && total > maxTokens {
		total -= Estimate(lines[0]) + 1
		lines = lines[1:]
	}
	return lines
}
