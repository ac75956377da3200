// Package chunker splits documents into overlapping windows for per-chunk
// extraction. The splitter is recursive: it prefers paragraph breaks, then
// line breaks, then word boundaries, then raw character offsets.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"docsieve/internal/logging"
)

// ErrChunkingFailed is returned when the input cannot be split.
var ErrChunkingFailed = errors.New("chunking_failed")

// Separator priority order. The empty separator is the character-level
// last resort and always succeeds.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is one window of document text.
type Chunk struct {
	Index           int    `json:"index"`
	Text            string `json:"text"`
	SourceSegmentID string `json:"source_segment_id,omitempty"`
	CharOffset      int    `json:"char_offset"`
}

// Chunker produces overlapping chunks of bounded size.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a Chunker. Size must be positive; overlap must be smaller
// than size (it is clamped otherwise).
func New(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split breaks text into ordered chunks. Every character of the input
// appears in at least one chunk; adjacent chunks overlap by at most the
// configured overlap; no chunk exceeds chunk_size + overlap.
func (c *Chunker) Split(text, sourceSegmentID string) ([]Chunk, error) {
	timer := logging.StartTimer(logging.CategoryChunker, "Split")
	defer timer.Stop()

	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrChunkingFailed)
	}

	if len(text) <= c.chunkSize {
		logging.Chunker("Split: input fits in a single chunk (%d chars)", len(text))
		return []Chunk{{Index: 0, Text: text, SourceSegmentID: sourceSegmentID}}, nil
	}

	pieces := c.splitRecursive(text, c.separators)

	chunks := c.assemble(pieces, sourceSegmentID)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: produced no chunks for %d chars", ErrChunkingFailed, len(text))
	}

	logging.Chunker("Split: %d chars -> %d chunks (size=%d overlap=%d)", len(text), len(chunks), c.chunkSize, c.chunkOverlap)
	return chunks, nil
}

// splitRecursive breaks text into pieces no larger than chunkSize, trying
// separators in priority order and recursing into oversized pieces with
// the next separator.
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if len(text) <= c.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return c.hardSplit(text)
	}

	sep := separators[0]
	rest := separators[1:]

	if sep == "" {
		return c.hardSplit(text)
	}

	parts := splitKeepSeparator(text, sep)
	var out []string
	for _, part := range parts {
		if len(part) <= c.chunkSize {
			out = append(out, part)
		} else {
			out = append(out, c.splitRecursive(part, rest)...)
		}
	}
	return out
}

// hardSplit cuts text at raw character offsets.
func (c *Chunker) hardSplit(text string) []string {
	var out []string
	for start := 0; start < len(text); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}

// assemble packs pieces into chunks up to chunkSize, carrying the tail of
// each chunk into the next as overlap. A chunk is flushed only when it
// holds content beyond the carried overlap, so no overlap-only chunks are
// ever emitted.
func (c *Chunker) assemble(pieces []string, sourceSegmentID string) []Chunk {
	var chunks []Chunk
	var current string
	carried := 0
	offset := 0

	flush := func() {
		chunks = append(chunks, Chunk{
			Index:           len(chunks),
			Text:            current,
			SourceSegmentID: sourceSegmentID,
			CharOffset:      offset,
		})
		advance := len(current) - c.chunkOverlap
		if advance < 1 {
			advance = len(current)
		}
		offset += advance
		if c.chunkOverlap > 0 && len(current) > c.chunkOverlap {
			current = current[len(current)-c.chunkOverlap:]
			carried = len(current)
		} else {
			current = ""
			carried = 0
		}
	}

	for _, piece := range pieces {
		if len(current) > carried && len(current)+len(piece) > c.chunkSize {
			flush()
		}
		current += piece
	}
	if len(current) > carried {
		flush()
	}

	return chunks
}

// splitKeepSeparator splits text on sep, keeping the separator attached to
// the preceding part so no characters are lost.
func splitKeepSeparator(text, sep string) []string {
	var parts []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			if text != "" {
				parts = append(parts, text)
			}
			return parts
		}
		parts = append(parts, text[:idx+len(sep)])
		text = text[idx+len(sep):]
	}
}
