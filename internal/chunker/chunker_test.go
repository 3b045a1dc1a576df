package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Chunk_LengthBounds(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 500)
	chunks := Chunk(text, 200, 40)

	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk[%d]: length %d exceeds size 200", i, len(c))
		}
		if len(c) == 0 {
			t.Errorf("chunk[%d]: empty chunk", i)
		}
	}
}

func Test_Chunk_ConsecutiveOverlap(t *testing.T) {
	t.Parallel()

	// Distinct characters so overlapping regions can be compared literally.
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()

	chunks := Chunk(text, 200, 40)
	if len(chunks) < 2 {
		t.Fatalf("want at least 2 chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		tail := prev[len(prev)-40:]
		head := chunks[i][:40]
		if tail != head {
			t.Errorf("chunks %d/%d: overlap mismatch: tail=%q head=%q", i-1, i, tail, head)
		}
	}
}

func Test_Chunk_Reconstruction(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	text := sb.String()

	chunks := Chunk(text, 200, 40)

	// Concatenating chunks minus the repeated overlap reconstructs the input.
	rebuilt := chunks[0]
	for _, c := range chunks[1:] {
		rebuilt += c[40:]
	}
	if rebuilt != text {
		t.Errorf("reconstruction mismatch: got %d chars, want %d", len(rebuilt), len(text))
	}
}

func Test_Chunk_MultiByteRuneBoundaries(t *testing.T) {
	t.Parallel()

	// One ASCII byte up front shifts every subsequent rune off byte-aligned
	// chunk edges; byte slicing would split runes apart.
	text := "a" + strings.Repeat("é", 300)
	chunks := Chunk(text, 128, 20)

	if len(chunks) < 2 {
		t.Fatalf("want multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk[%d] is not valid UTF-8: %q", i, c)
		}
		if n := utf8.RuneCountInString(c); n > 128 {
			t.Errorf("chunk[%d]: %d runes exceeds size 128", i, n)
		}
	}

	rebuilt := chunks[0]
	for _, c := range chunks[1:] {
		runes := []rune(c)
		rebuilt += string(runes[20:])
	}
	if rebuilt != text {
		t.Errorf("reconstruction mismatch: got %d runes, want %d",
			utf8.RuneCountInString(rebuilt), utf8.RuneCountInString(text))
	}
}

func Test_Chunk_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	chunks := Chunk("short review", 128, 20)
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "short review" {
		t.Errorf("chunk = %q, want input unchanged", chunks[0])
	}
}

func Test_Chunk_EmptyAndWhitespaceInput(t *testing.T) {
	t.Parallel()

	if got := Chunk("", 128, 20); got != nil {
		t.Errorf("empty input: want nil, got %v", got)
	}
	if got := Chunk("   \n\t  ", 128, 20); got != nil {
		t.Errorf("whitespace input: want nil, got %v", got)
	}
}

func Test_Chunk_Deterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("great board for beginners. ", 30)
	a := Chunk(text, 200, 40)
	b := Chunk(text, 200, 40)

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk[%d] differs between runs", i)
		}
	}
}

func Test_Chunk_ParameterClamping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 20},
		{"negative overlap", 128, -5},
		{"overlap exceeds size", 100, 100},
	}

	text := strings.Repeat("x", 1000)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chunks := Chunk(text, tc.size, tc.overlap)
			if len(chunks) == 0 {
				t.Fatal("want chunks despite invalid params, got none")
			}
			for i, c := range chunks {
				if len(c) == 0 {
					t.Errorf("chunk[%d]: empty", i)
				}
			}
		})
	}
}
