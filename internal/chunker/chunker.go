// Package chunker splits review bodies into overlapping fixed-size chunks
// for fine-grained embedding and similarity search. Chunking is a pure
// function: the same input always produces the same chunks, and no chunk is
// ever empty.
package chunker

import "strings"

// Default chunking parameters. Review bodies are short, so the window is
// deliberately small; override via CHUNK_SIZE / CHUNK_OVERLAP.
const (
	// DefaultSize is the maximum number of characters per chunk.
	DefaultSize = 128
	// DefaultOverlap is the number of characters repeated between
	// consecutive chunks so sentence fragments are not lost at boundaries.
	DefaultOverlap = 20
)

// Chunk splits text into ordered chunks of at most size characters with
// overlap characters shared between consecutive chunks. The final chunk may
// be shorter than size. Sizes count runes, not bytes, so multi-byte text is
// never split mid-character. Leading/trailing whitespace is trimmed first;
// empty input yields no chunks.
//
// Invalid parameters are clamped rather than rejected: a non-positive size
// falls back to DefaultSize, a negative overlap to 0, and an overlap that
// would prevent forward progress to size/10.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}

	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}
