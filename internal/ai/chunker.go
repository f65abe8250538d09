package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word and
// finally single characters.
var DefaultSeparators = []string{
	"\n\n", "</p>", "</div>", "</li>",
	"\n", "<br/>", "<br>",
	". ", "! ", "? ", "; ",
	" ",
	"",
}

type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// TextChunk is a passage of the input. Start and End are byte offsets and
// text[Start:End] == Content always holds.
type TextChunk struct {
	Content string
	Start   int
	End     int
}

type span struct {
	start int
	end   int
}

type Chunker struct {
	opts ChunkOptions
}

func NewChunker(opts ChunkOptions) (*Chunker, error) {
	opts, err := normalizeChunkOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

func (c *Chunker) Chunk(ctx context.Context, text string) ([]TextChunk, error) {
	return ChunkText(ctx, text, c.opts)
}

func normalizeChunkOptions(opts ChunkOptions) (ChunkOptions, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
		if opts.ChunkOverlap == 0 {
			opts.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if opts.ChunkSize < 0 || opts.ChunkOverlap < 0 {
		return opts, fmt.Errorf("%w: negative chunk size or overlap", appErr.ErrInvalid)
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		return opts, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", appErr.ErrInvalid, opts.ChunkOverlap, opts.ChunkSize)
	}
	if len(opts.Separators) == 0 {
		opts.Separators = DefaultSeparators
	}
	return opts, nil
}

// ChunkText splits text recursively on the separators and merges the pieces
// back into passages of at most ChunkSize runes, where consecutive passages
// share at most ChunkOverlap runes.
func ChunkText(ctx context.Context, text string, opts ChunkOptions) ([]TextChunk, error) {
	opts, err := normalizeChunkOptions(opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []TextChunk{}, nil
	}
	s := &splitter{text: text, opts: opts}
	spans := s.split(span{start: 0, end: len(text)}, opts.Separators)

	out := make([]TextChunk, 0, len(spans))
	for _, sp := range spans {
		sp = s.trim(sp)
		if sp.start >= sp.end {
			continue
		}
		out = append(out, TextChunk{Content: text[sp.start:sp.end], Start: sp.start, End: sp.end})
	}
	logutil.GetLogger(ctx).Debug("text chunked",
		zap.Int("size", len(text)),
		zap.Int("chunks", len(out)),
		zap.Int("chunk_size", opts.ChunkSize),
		zap.Int("chunk_overlap", opts.ChunkOverlap),
	)
	return out, nil
}

type splitter struct {
	text string
	opts ChunkOptions
}

func (s *splitter) runes(sp span) int {
	return utf8.RuneCountInString(s.text[sp.start:sp.end])
}

func (s *splitter) trim(sp span) span {
	part := s.text[sp.start:sp.end]
	left := strings.TrimLeftFunc(part, unicode.IsSpace)
	sp.start += len(part) - len(left)
	right := strings.TrimRightFunc(left, unicode.IsSpace)
	sp.end = sp.start + len(right)
	return sp
}

// pieces cuts sp at every occurrence of sep. The separator stays at the end
// of the piece before it; the empty separator yields single runes.
func (s *splitter) pieces(sp span, sep string) []span {
	part := s.text[sp.start:sp.end]
	var out []span
	if sep == "" {
		for i, r := range part {
			out = append(out, span{start: sp.start + i, end: sp.start + i + utf8.RuneLen(r)})
		}
		return out
	}
	cur := 0
	for {
		idx := strings.Index(part[cur:], sep)
		if idx < 0 {
			break
		}
		next := cur + idx + len(sep)
		out = append(out, span{start: sp.start + cur, end: sp.start + next})
		cur = next
	}
	if cur < len(part) {
		out = append(out, span{start: sp.start + cur, end: sp.end})
	}
	return out
}

func (s *splitter) split(sp span, seps []string) []span {
	part := s.text[sp.start:sp.end]
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" || strings.Contains(part, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var out, good []span
	for _, piece := range s.pieces(sp, sep) {
		if s.runes(piece) <= s.opts.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs adjacent pieces into windows. After a window is emitted the
// oldest pieces are dropped until the remainder fits inside the overlap.
func (s *splitter) merge(pieces []span) []span {
	var out []span
	var window []span
	var windowLen []int
	total := 0
	for _, piece := range pieces {
		n := s.runes(piece)
		if total+n > s.opts.ChunkSize && len(window) > 0 {
			out = append(out, span{start: window[0].start, end: window[len(window)-1].end})
			for len(window) > 0 && (total > s.opts.ChunkOverlap || total+n > s.opts.ChunkSize) {
				total -= windowLen[0]
				window = window[1:]
				windowLen = windowLen[1:]
			}
		}
		window = append(window, piece)
		windowLen = append(windowLen, n)
		total += n
	}
	if len(window) > 0 {
		out = append(out, span{start: window[0].start, end: window[len(window)-1].end})
	}
	return out
}
