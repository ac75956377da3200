package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_SingleChunk(t *testing.T) {
	c := New(100, 10)
	chunks, err := c.Split("short document", "seg-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "short document", chunks[0].Text)
	assert.Equal(t, "seg-1", chunks[0].SourceSegmentID)
}

func TestSplit_EmptyInput(t *testing.T) {
	c := New(100, 10)
	_, err := c.Split("", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkingFailed)
}

func TestSplit_PrefersParagraphBreaks(t *testing.T) {
	para1 := strings.Repeat("a", 40)
	para2 := strings.Repeat("b", 40)
	text := para1 + "\n\n" + para2

	c := New(50, 0)
	chunks, err := c.Split(text, "")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, para1+"\n\n", chunks[0].Text)
	assert.Equal(t, para2, chunks[1].Text)
}

func TestSplit_FullCoverage(t *testing.T) {
	// Every character of the input must appear in at least one chunk.
	text := strings.Repeat("lorem ipsum dolor sit amet\n", 50)

	c := New(120, 20)
	chunks, err := c.Split(text, "")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	covered := make([]bool, len(text))
	for _, ch := range chunks {
		require.Equal(t, ch.Text, text[ch.CharOffset:ch.CharOffset+len(ch.Text)],
			"chunk %d does not match its claimed offset", ch.Index)
		for i := ch.CharOffset; i < ch.CharOffset+len(ch.Text); i++ {
			covered[i] = true
		}
	}
	for i, ok := range covered {
		require.True(t, ok, "character %d not covered by any chunk", i)
	}
}

func TestSplit_SizeBound(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	c := New(200, 40)
	chunks, err := c.Split(text, "")
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 200+40, "chunk %d exceeds size bound", ch.Index)
	}
}

func TestSplit_IndicesSequential(t *testing.T) {
	text := strings.Repeat("x y z ", 500)
	c := New(100, 10)
	chunks, err := c.Split(text, "")
	require.NoError(t, err)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestSplit_NoSeparators(t *testing.T) {
	// A single unbroken run forces character-level splitting.
	text := strings.Repeat("x", 1000)
	c := New(300, 50)
	chunks, err := c.Split(text, "")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	total := 0
	for _, ch := range chunks {
		total += len(ch.Text)
	}
	// Coverage plus overlaps must account for at least the whole input.
	assert.GreaterOrEqual(t, total, len(text))
}

func TestNew_ClampsBadConfig(t *testing.T) {
	c := New(0, -5)
	assert.Equal(t, 4000, c.chunkSize)
	assert.Equal(t, 0, c.chunkOverlap)

	c = New(100, 100)
	assert.Equal(t, 50, c.chunkOverlap)
}
