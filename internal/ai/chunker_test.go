package ai

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

func checkChunks(t *testing.T, text string, chunks []TextChunk, opts ChunkOptions) {
	t.Helper()
	prevEnd := 0
	prevStart := -1
	for i, c := range chunks {
		require.Equal(t, text[c.Start:c.End], c.Content, "chunk %d", i)
		require.NotEmpty(t, strings.TrimSpace(c.Content))
		require.Equal(t, strings.TrimSpace(c.Content), c.Content)
		require.LessOrEqual(t, utf8.RuneCountInString(c.Content), opts.ChunkSize, "chunk %d too long", i)
		require.GreaterOrEqual(t, c.Start, prevStart)
		if c.Start >= prevEnd {
			require.Empty(t, strings.TrimSpace(text[prevEnd:c.Start]), "gap before chunk %d drops text", i)
		} else {
			require.LessOrEqual(t, utf8.RuneCountInString(text[c.Start:prevEnd]), opts.ChunkOverlap, "chunk %d overlap", i)
		}
		prevStart = c.Start
		if c.End > prevEnd {
			prevEnd = c.End
		}
	}
	require.Empty(t, strings.TrimSpace(text[prevEnd:]))
}

func TestChunkText_Reconstruction(t *testing.T) {
	paragraph := "The quick brown fox jumps over the lazy dog. It was not amused! Was it? Perhaps; nobody knows."
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("<p>")
		sb.WriteString(paragraph)
		sb.WriteString("</p>\n")
		if i%5 == 0 {
			sb.WriteString("\n")
		}
	}
	text := sb.String()

	tests := []struct {
		name string
		opts ChunkOptions
	}{
		{name: "defaults", opts: ChunkOptions{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}},
		{name: "small", opts: ChunkOptions{ChunkSize: 120, ChunkOverlap: 30}},
		{name: "tiny", opts: ChunkOptions{ChunkSize: 10, ChunkOverlap: 3}},
		{name: "no overlap", opts: ChunkOptions{ChunkSize: 64, ChunkOverlap: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := ChunkText(context.Background(), text, tt.opts)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)
			checkChunks(t, text, chunks, tt.opts)
		})
	}
}

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	chunks, err := ChunkText(context.Background(), "  <p>hello world</p>  ", ChunkOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "<p>hello world</p>", chunks[0].Content)
	require.Equal(t, 2, chunks[0].Start)
}

func TestChunkText_Empty(t *testing.T) {
	chunks, err := ChunkText(context.Background(), "", ChunkOptions{})
	require.NoError(t, err)
	require.Empty(t, chunks)

	chunks, err = ChunkText(context.Background(), " \n\n\t ", ChunkOptions{})
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestChunkText_Multibyte(t *testing.T) {
	text := strings.Repeat("日本語のテキストです。", 40)
	opts := ChunkOptions{ChunkSize: 25, ChunkOverlap: 5}
	chunks, err := ChunkText(context.Background(), text, opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	checkChunks(t, text, chunks, opts)
	for _, c := range chunks {
		require.True(t, utf8.ValidString(c.Content))
	}
}

func TestChunkText_SeparatorStaysWithPrecedingPiece(t *testing.T) {
	text := "<p>first block here</p><p>second block here</p>"
	chunks, err := ChunkText(context.Background(), text, ChunkOptions{ChunkSize: 30, ChunkOverlap: 0})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "<p>first block here</p>", chunks[0].Content)
	require.Equal(t, "<p>second block here</p>", chunks[1].Content)
}

func TestChunkText_OversizedUnitVerbatim(t *testing.T) {
	word := strings.Repeat("y", 40)
	text := "short " + word + " tail"
	chunks, err := ChunkText(context.Background(), text, ChunkOptions{
		ChunkSize:    10,
		ChunkOverlap: 2,
		Separators:   []string{"\n\n", " "},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Equal(t, "short", chunks[0].Content)
	require.Equal(t, word, chunks[1].Content)
	require.Equal(t, "tail", chunks[2].Content)
	for _, c := range chunks {
		require.Equal(t, c.Content, text[c.Start:c.End])
	}
}

func TestChunkText_InvalidOptions(t *testing.T) {
	tests := []ChunkOptions{
		{ChunkSize: 100, ChunkOverlap: 100},
		{ChunkSize: 100, ChunkOverlap: 150},
		{ChunkSize: -1},
		{ChunkSize: 100, ChunkOverlap: -1},
	}
	for _, opts := range tests {
		_, err := ChunkText(context.Background(), "text", opts)
		require.ErrorIs(t, err, appErr.ErrInvalid)
	}
	_, err := NewChunker(ChunkOptions{ChunkSize: 10, ChunkOverlap: 10})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestChunker_UsesOptions(t *testing.T) {
	c, err := NewChunker(ChunkOptions{ChunkSize: 20, ChunkOverlap: 5})
	require.NoError(t, err)
	text := strings.Repeat("word ", 50)
	chunks, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	checkChunks(t, text, chunks, ChunkOptions{ChunkSize: 20, ChunkOverlap: 5})
}
