package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)

	_, err = New(100, 100)
	require.Error(t, err)

	_, err = New(100, -1)
	require.Error(t, err)

	c, err := New(100, 20)
	require.NoError(t, err)
	assert.Equal(t, 100, c.Size())
	assert.Equal(t, 20, c.Overlap())
}

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	spans := c.Chunk("a short document")
	require.Len(t, spans, 1)
	assert.Equal(t, 0, spans[0].Ordinal)
	assert.Equal(t, "a short document", spans[0].Text)
}

func TestChunk_Empty(t *testing.T) {
	c, err := New(100, 10)
	require.NoError(t, err)

	assert.Nil(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestChunk_Deterministic(t *testing.T) {
	c, err := New(80, 16)
	require.NoError(t, err)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 30)
	first := c.Chunk(text)
	second := c.Chunk(text)
	assert.Equal(t, first, second)
	require.Greater(t, len(first), 1)
}

func TestChunk_SizeBound(t *testing.T) {
	c, err := New(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("word ", 200)
	for _, span := range c.Chunk(text) {
		assert.LessOrEqual(t, utf8.RuneCountInString(span.Text), 50,
			"chunk %d exceeds size", span.Ordinal)
	}
}

func TestChunk_OrdinalsSequential(t *testing.T) {
	c, err := New(40, 8)
	require.NoError(t, err)

	spans := c.Chunk(strings.Repeat("alpha beta gamma delta. ", 20))
	for i, span := range spans {
		assert.Equal(t, i, span.Ordinal)
	}
}

func TestChunk_CoversAllWords(t *testing.T) {
	c, err := New(60, 12)
	require.NoError(t, err)

	words := []string{"hydrogen", "turbine", "storage", "transmission", "demand", "forecast"}
	text := strings.Repeat(strings.Join(words, " ")+". ", 15)

	joined := ""
	for _, span := range c.Chunk(text) {
		joined += span.Text + " "
	}
	for _, w := range words {
		assert.Contains(t, joined, w)
	}
}

func TestChunk_PrefersParagraphBreaks(t *testing.T) {
	c, err := New(40, 0)
	require.NoError(t, err)

	text := "first paragraph stays whole here\n\nsecond paragraph follows right after it"
	spans := c.Chunk(text)
	require.GreaterOrEqual(t, len(spans), 2)
	assert.Equal(t, "first paragraph stays whole here", spans[0].Text)
}

func TestChunk_RuneSafe(t *testing.T) {
	c, err := New(30, 6)
	require.NoError(t, err)

	text := strings.Repeat("émission d'énergie très élevée ", 20)
	for _, span := range c.Chunk(text) {
		assert.True(t, utf8.ValidString(span.Text), "chunk %d has broken runes", span.Ordinal)
	}
}

func TestChunk_ProgressWithoutSeparators(t *testing.T) {
	c, err := New(25, 5)
	require.NoError(t, err)

	// No separators at all: hard cuts, still terminates and covers text.
	text := strings.Repeat("x", 200)
	spans := c.Chunk(text)
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	assert.LessOrEqual(t, utf8.RuneCountInString(last.Text), 25)
}
