package services

import (
	"regexp"
	"strings"
)

// Chunk is a bounded contiguous slice of a document's extracted text.
// Immutable once produced.
type Chunk struct {
	Text       string `json:"text" bson:"text"`
	Index      int    `json:"index" bson:"index"`
	SourceID   string `json:"source_id" bson:"source_id"`
	TokenCount int    `json:"token_count" bson:"token_count"`
}

// TokenLenFunc measures text length in tokens. The default estimates one
// token per four characters when no real tokenizer is configured.
type TokenLenFunc func(text string) int

func defaultTokenLen(text string) int {
	return len(text) / 4
}

// TextChunker splits extracted document text into overlapping, size-bounded
// segments, trying separators in priority order: paragraph break, line
// break, space, character boundary.
type TextChunker struct {
	maxTokens     int
	overlapTokens int
	minChunkLen   int
	tokenLen      TokenLenFunc
	newlineRuns   *regexp.Regexp
	spaceRuns     *regexp.Regexp
}

// NewTextChunker creates a chunker. Zero or negative arguments fall back to
// the defaults (1000 token chunks, 200 token overlap).
func NewTextChunker(maxTokens, overlapTokens int) *TextChunker {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 200
		if overlapTokens >= maxTokens {
			overlapTokens = maxTokens / 5
		}
	}
	return &TextChunker{
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		minChunkLen:   50,
		tokenLen:      defaultTokenLen,
		newlineRuns:   regexp.MustCompile(`\n{3,}`),
		spaceRuns:     regexp.MustCompile(`[ \t]+`),
	}
}

// SetTokenLenFunc installs a real tokenizer length function.
func (tc *TextChunker) SetTokenLenFunc(fn TokenLenFunc) {
	if fn != nil {
		tc.tokenLen = fn
	}
}

var chunkSeparators = []string{"\n\n", "\n", " ", ""}

// ChunkText splits text into chunks of at most maxTokens, each seeded with
// the last overlapTokens of its predecessor. Fragments shorter than the
// minimum length are dropped. Empty or whitespace-only input returns nil.
func (tc *TextChunker) ChunkText(text, sourceID string) []Chunk {
	cleaned := tc.cleanText(text)
	if cleaned == "" {
		return nil
	}

	pieces := tc.split(cleaned, 0)

	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if len(trimmed) < tc.minChunkLen {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:       trimmed,
			Index:      len(chunks),
			SourceID:   sourceID,
			TokenCount: tc.tokenLen(trimmed),
		})
	}
	return chunks
}

// split recursively packs text into segments of at most maxTokens, trying
// the separator at the given priority level and descending to finer
// separators only for pieces that are still too large.
func (tc *TextChunker) split(text string, level int) []string {
	if tc.tokenLen(text) <= tc.maxTokens {
		return []string{text}
	}
	if level >= len(chunkSeparators) {
		return []string{text}
	}

	sep := chunkSeparators[level]
	var parts []string
	if sep == "" {
		// Character boundary: hard cut at the token budget
		return tc.packRunes(text)
	}
	parts = strings.Split(text, sep)

	// Pack parts greedily up to maxTokens, carrying overlap across chunks.
	var out []string
	var current strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		candidate := part
		if current.Len() > 0 {
			candidate = current.String() + sep + part
		}
		if tc.tokenLen(candidate) <= tc.maxTokens {
			current.Reset()
			current.WriteString(candidate)
			continue
		}

		// Flush what we have, then seed the next chunk with overlap.
		if current.Len() > 0 {
			out = append(out, current.String())
			seed := tc.overlapTail(current.String())
			current.Reset()
			if seed != "" {
				current.WriteString(seed)
				current.WriteString(sep)
			}
		}

		// The part alone may still exceed the budget: recurse finer.
		if tc.tokenLen(current.String()+part) > tc.maxTokens {
			if current.Len() > 0 {
				out = append(out, strings.TrimSuffix(current.String(), sep))
				current.Reset()
			}
			sub := tc.split(part, level+1)
			if len(sub) > 0 {
				out = append(out, sub[:len(sub)-1]...)
				// Let the last sub-piece keep packing with what follows
				current.WriteString(sub[len(sub)-1])
			}
			continue
		}
		current.WriteString(part)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// packRunes cuts text at character boundaries when no separator fits.
func (tc *TextChunker) packRunes(text string) []string {
	// 4 chars per token keeps the cut aligned with the default estimator
	maxChars := tc.maxTokens * 4
	overlapChars := tc.overlapTokens * 4
	runes := []rune(text)

	var out []string
	for start := 0; start < len(runes); {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlapChars
		if start < 0 {
			start = 0
		}
	}
	return out
}

// overlapTail returns the last overlapTokens worth of text, aligned to a
// word boundary, to preserve local context across chunk boundaries.
func (tc *TextChunker) overlapTail(text string) string {
	if tc.overlapTokens == 0 {
		return ""
	}
	if tc.tokenLen(text) <= tc.overlapTokens {
		return text
	}
	words := strings.Fields(text)
	var tail []string
	size := 0
	for i := len(words) - 1; i >= 0; i-- {
		size += tc.tokenLen(words[i]) + 1
		if size > tc.overlapTokens {
			break
		}
		tail = append([]string{words[i]}, tail...)
	}
	return strings.Join(tail, " ")
}

// cleanText normalizes raw extracted text before chunking: line endings,
// control characters, whitespace runs and excessive blank lines.
func (tc *TextChunker) cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Strip control characters except newline and tab
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)

	// Collapse horizontal whitespace runs per line, then blank-line runs
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(tc.spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = tc.newlineRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// ChunkStats summarizes a chunk sequence.
type ChunkStats struct {
	TotalChunks int     `json:"total_chunks"`
	TotalTokens int     `json:"total_tokens"`
	TotalChars  int     `json:"total_characters"`
	AvgTokens   float64 `json:"avg_tokens_per_chunk"`
	MaxTokens   int     `json:"max_tokens"`
	MinTokens   int     `json:"min_tokens"`
}

// Stats computes summary statistics for a chunk sequence.
func (tc *TextChunker) Stats(chunks []Chunk) ChunkStats {
	if len(chunks) == 0 {
		return ChunkStats{}
	}
	stats := ChunkStats{TotalChunks: len(chunks), MinTokens: chunks[0].TokenCount}
	for _, ch := range chunks {
		stats.TotalTokens += ch.TokenCount
		stats.TotalChars += len(ch.Text)
		if ch.TokenCount > stats.MaxTokens {
			stats.MaxTokens = ch.TokenCount
		}
		if ch.TokenCount < stats.MinTokens {
			stats.MinTokens = ch.TokenCount
		}
	}
	stats.AvgTokens = float64(stats.TotalTokens) / float64(len(chunks))
	return stats
}
