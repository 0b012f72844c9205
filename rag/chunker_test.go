package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextReconstructsInput(t *testing.T) {
	text := strings.Repeat("abcdefghij", 500) // 5000 chars
	chunks, err := ChunkText(text, 900, 150)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Consecutive chunks overlap by 150 chars; dropping the overlap from
	// every chunk after the first must reconstruct the input.
	var b strings.Builder
	b.WriteString(chunks[0])
	for _, ch := range chunks[1:] {
		b.WriteString(ch[150:])
	}
	assert.Equal(t, text, b.String())

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 900)
	}

	// Finite and proportional to len/(size-overlap).
	assert.LessOrEqual(t, len(chunks), len(text)/(900-150)+2)
}

func TestChunkTextEmitsFinalPartialWindow(t *testing.T) {
	chunks, err := ChunkText(strings.Repeat("x", 1000), 900, 150)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 900)
	assert.Len(t, chunks[1], 250) // restart at 750
}

func TestChunkTextShortInputSingleChunk(t *testing.T) {
	chunks, err := ChunkText("hello", 900, 150)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestChunkTextEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\x00\x00", " \x00 "} {
		chunks, err := ChunkText(in, 900, 150)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunkTextStripsNulBytes(t *testing.T) {
	chunks, err := ChunkText("a\x00b", 900, 150)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab"}, chunks)
}

func TestChunkTextCountsRunesNotBytes(t *testing.T) {
	chunks, err := ChunkText(strings.Repeat("好", 10), 6, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("好", 6), chunks[0])
	assert.Equal(t, strings.Repeat("好", 6), chunks[1])
}

func TestChunkTextRejectsNonAdvancingWindow(t *testing.T) {
	_, err := ChunkText("some text", 100, 100)
	assert.Error(t, err)

	_, err = ChunkText("some text", 100, 150)
	assert.Error(t, err)

	_, err = ChunkText("some text", 0, 0)
	assert.Error(t, err)

	_, err = ChunkText("some text", 100, -1)
	assert.Error(t, err)
}
