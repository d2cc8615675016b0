package corpus

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunk is a contiguous window of a document's text. Start and End are
// byte offsets into the source text before trimming; Text is the
// trimmed window content that gets embedded and indexed.
type Chunk struct {
	Text  string
	Start int
	End   int
	Index int
}

// Chunker splits extracted document text into overlapping windows,
// snapping window ends to sentence or blank-line boundaries when one
// exists inside the window. Splitting is a pure function of the input:
// the same text always yields the same chunk list.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker with the given window size and overlap,
// both in bytes. Degenerate configurations are rejected here so a bad
// overlap can never loop the split forever.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got overlap=%d chunk size=%d", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize returns the configured window size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured window overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text into ordered, overlapping windows. Windows cover
// the whole text left to right with no gaps; adjacent windows overlap
// by up to the configured overlap. Windows that are empty after
// trimming are skipped but never leave a hole in the span coverage.
func (c *Chunker) Split(text string) []Chunk {
	if len(text) <= c.chunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []Chunk{{Text: trimmed, Start: 0, End: len(text), Index: 0}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end >= len(text) {
			end = len(text)
		} else if b := boundaryBefore(text, start, end); b > start {
			// Snap to the nearest sentence or paragraph break so we
			// don't sever a sentence mid-word.
			end = b
		} else if r := runeStart(text, end); r > start {
			// Raw cut: back off so a multi-byte rune is never severed.
			end = r
		}

		if trimmed := strings.TrimSpace(text[start:end]); trimmed != "" {
			chunks = append(chunks, Chunk{
				Text:  trimmed,
				Start: start,
				End:   end,
				Index: len(chunks),
			})
		}

		if end >= len(text) {
			break
		}
		next := runeStart(text, end-c.overlap)
		if next <= start {
			// Boundary snapped so early that backing off by the
			// overlap would stall; continue from the window end.
			next = end
		}
		start = next
	}
	return chunks
}

// runeStart backs pos off to the start of the UTF-8 rune containing
// it, so cuts and window advances always land on rune boundaries.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// boundaryBefore searches backward from end for the nearest
// sentence-ending punctuation or blank line strictly after start.
// It returns the offset just past the boundary, or -1 if the window
// contains none.
func boundaryBefore(text string, start, end int) int {
	for i := end - 1; i > start; i-- {
		switch text[i] {
		case '.', '!', '?':
			return i + 1
		case '\n':
			if text[i-1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}
