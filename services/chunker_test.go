package services

import (
	"strings"
	"testing"
)

func TestChunkTextEmptyInput(t *testing.T) {
	chunker := NewTextChunker(1000, 200)

	if got := chunker.ChunkText("", "doc"); got != nil {
		t.Fatalf("expected nil for empty input, got %d chunks", len(got))
	}
	if got := chunker.ChunkText("   \n\n\t  ", "doc"); got != nil {
		t.Fatalf("expected nil for whitespace input, got %d chunks", len(got))
	}
}

func TestChunkTextDropsShortFragments(t *testing.T) {
	chunker := NewTextChunker(1000, 200)

	chunks := chunker.ChunkText("too short", "doc")
	if len(chunks) != 0 {
		t.Fatalf("fragment under the minimum length should be dropped, got %d chunks", len(chunks))
	}
}

func TestChunkTextSingleChunk(t *testing.T) {
	chunker := NewTextChunker(1000, 200)
	text := strings.Repeat("some sentence about the document. ", 10)

	chunks := chunker.ChunkText(text, "doc-1")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("expected index 0, got %d", chunks[0].Index)
	}
	if chunks[0].SourceID != "doc-1" {
		t.Errorf("expected source doc-1, got %q", chunks[0].SourceID)
	}
	if chunks[0].TokenCount == 0 {
		t.Errorf("token count should be set")
	}
}

func TestChunkTextRespectsTokenBound(t *testing.T) {
	chunker := NewTextChunker(100, 20)

	// Many paragraphs, enough to force multiple chunks
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("word ", 30))
		sb.WriteString("\n\n")
	}

	chunks := chunker.ChunkText(sb.String(), "doc")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > 100 {
			t.Errorf("chunk %d exceeds token bound: %d tokens", ch.Index, ch.TokenCount)
		}
	}

	// Indexes must be sequential
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("expected index %d, got %d", i, ch.Index)
		}
	}
}

func TestChunkTextHardCutWithoutSeparators(t *testing.T) {
	chunker := NewTextChunker(50, 10)

	// One unbroken run of characters, no separator of any kind
	text := strings.Repeat("x", 2000)

	chunks := chunker.ChunkText(text, "doc")
	if len(chunks) < 2 {
		t.Fatalf("expected character-boundary cuts, got %d chunks", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > 50 {
			t.Errorf("chunk %d exceeds token bound: %d", ch.Index, ch.TokenCount)
		}
	}
}

func TestCleanTextNormalization(t *testing.T) {
	chunker := NewTextChunker(1000, 200)

	in := "line one\r\nline   two\t\tmore\n\n\n\n\nline three\x00\x07"
	got := chunker.cleanText(in)

	if strings.Contains(got, "\r") {
		t.Errorf("carriage returns should be normalized")
	}
	if strings.Contains(got, "   ") {
		t.Errorf("space runs should be collapsed: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank-line runs should be capped at one empty line: %q", got)
	}
	if strings.ContainsAny(got, "\x00\x07") {
		t.Errorf("control characters should be stripped")
	}
}

func TestChunkStats(t *testing.T) {
	chunker := NewTextChunker(1000, 200)

	if stats := chunker.Stats(nil); stats.TotalChunks != 0 {
		t.Fatalf("empty stats expected, got %+v", stats)
	}

	chunks := []Chunk{
		{Text: strings.Repeat("a", 100), TokenCount: 25},
		{Text: strings.Repeat("b", 200), TokenCount: 50},
	}
	stats := chunker.Stats(chunks)
	if stats.TotalChunks != 2 || stats.TotalTokens != 75 || stats.TotalChars != 300 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	if stats.MinTokens != 25 || stats.MaxTokens != 50 {
		t.Errorf("unexpected min/max: %+v", stats)
	}
	if stats.AvgTokens != 37.5 {
		t.Errorf("unexpected average: %v", stats.AvgTokens)
	}
}
