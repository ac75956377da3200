package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Segment is one unit of loaded document text.
type Segment struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// DocumentSource yields plain text with per-segment metadata. Binary-format
// parsing, OCR and encoding detection belong to implementations, not the
// core.
type DocumentSource interface {
	Load(ctx context.Context) ([]Segment, error)
}

// TextSource serves an in-memory string as a single segment.
type TextSource struct {
	ID   string
	Text string
}

// Load returns the text as one segment.
func (s TextSource) Load(ctx context.Context) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := s.ID
	if id == "" {
		id = "text"
	}
	return []Segment{{ID: id, Text: s.Text}}, nil
}

// FileSource reads a plain-text file as a single segment.
type FileSource struct {
	Path string
}

// Load reads the file.
func (s FileSource) Load(ctx context.Context) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Path, err)
	}
	return []Segment{{
		ID:   filepath.Base(s.Path),
		Text: string(data),
		Metadata: map[string]string{
			"path": s.Path,
		},
	}}, nil
}

// segmentSeparator joins segments into one document. It is recorded in the
// result metadata so callers can recover segment boundaries.
const segmentSeparator = "\n\n"

// joinSegments concatenates segment texts and returns the combined document
// plus the ID of the first segment (used as the chunker's source tag).
func joinSegments(segments []Segment) (string, string) {
	if len(segments) == 0 {
		return "", ""
	}
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	return strings.Join(texts, segmentSeparator), segments[0].ID
}
