package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

// fakeEmbedProvider encodes the input number into the first component so the
// caller can check alignment.
type fakeEmbedProvider struct {
	dim    int
	calls  atomic.Int32
	failOn string
	short  bool
	delay  func(texts []string) time.Duration
}

func (p *fakeEmbedProvider) Name() string { return "fake" }

func (p *fakeEmbedProvider) vector(text string) []float32 {
	v := make([]float32, p.dim)
	n, _ := strconv.Atoi(strings.TrimPrefix(text, "t"))
	v[0] = float32(n)
	return v
}

func (p *fakeEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, model, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *fakeEmbedProvider) EmbedBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	p.calls.Add(1)
	if p.delay != nil {
		time.Sleep(p.delay(texts))
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if p.failOn != "" && text == p.failOn {
			return nil, errors.New("remote exploded")
		}
		out = append(out, p.vector(text))
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func inputs(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("t%d", i))
	}
	return out
}

func TestEmbedBatch_KeepsInputOrder(t *testing.T) {
	p := &fakeEmbedProvider{
		dim: 4,
		// later batches finish first
		delay: func(texts []string) time.Duration {
			n, _ := strconv.Atoi(strings.TrimPrefix(texts[0], "t"))
			return time.Duration(50-n) * time.Millisecond
		},
	}
	e := NewEmbedder(p, EmbedderConfig{Model: "m", Dimension: 4, BatchSize: 3, Concurrency: 4})
	texts := inputs(20)
	vecs, err := e.EmbedBatch(context.Background(), texts, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 20)
	for i, v := range vecs {
		require.Equal(t, float32(i), v[0])
	}
	require.Equal(t, int32(7), p.calls.Load())
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	p := &fakeEmbedProvider{dim: 4}
	e := NewEmbedder(p, EmbedderConfig{Dimension: 4})
	vecs, err := e.EmbedBatch(context.Background(), nil, TaskRetrievalDocument)
	require.NoError(t, err)
	require.Empty(t, vecs)
	require.Equal(t, int32(0), p.calls.Load())
}

func TestEmbedBatch_RejectsBlankText(t *testing.T) {
	p := &fakeEmbedProvider{dim: 4}
	e := NewEmbedder(p, EmbedderConfig{Dimension: 4})
	_, err := e.EmbedBatch(context.Background(), []string{"t1", "   "}, TaskRetrievalDocument)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Equal(t, int32(0), p.calls.Load())

	_, err = e.Embed(context.Background(), "", TaskRetrievalQuery)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestEmbedBatch_FailureFailsWholeBatch(t *testing.T) {
	p := &fakeEmbedProvider{dim: 4, failOn: "t9"}
	e := NewEmbedder(p, EmbedderConfig{Dimension: 4, BatchSize: 2})
	vecs, err := e.EmbedBatch(context.Background(), inputs(12), TaskRetrievalDocument)
	require.ErrorIs(t, err, appErr.ErrEmbedding)
	require.Nil(t, vecs)
}

func TestEmbedBatch_MalformedResponses(t *testing.T) {
	short := &fakeEmbedProvider{dim: 4, short: true}
	e := NewEmbedder(short, EmbedderConfig{Dimension: 4, BatchSize: 5})
	_, err := e.EmbedBatch(context.Background(), inputs(5), TaskRetrievalDocument)
	require.ErrorIs(t, err, appErr.ErrEmbedding)

	wrongDim := &fakeEmbedProvider{dim: 3}
	e = NewEmbedder(wrongDim, EmbedderConfig{Dimension: 4})
	_, err = e.EmbedBatch(context.Background(), inputs(2), TaskRetrievalDocument)
	require.ErrorIs(t, err, appErr.ErrEmbedding)
	_, err = e.Embed(context.Background(), "t1", TaskRetrievalQuery)
	require.ErrorIs(t, err, appErr.ErrEmbedding)
}

func TestEmbed_Single(t *testing.T) {
	p := &fakeEmbedProvider{dim: 2}
	e := NewEmbedder(p, EmbedderConfig{Model: "m1", Dimension: 2})
	v, err := e.Embed(context.Background(), "t7", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{7, 0}, v)
	require.Equal(t, "m1", e.ModelName())
	require.Equal(t, 2, e.Dimension())
}

func TestGroupEmbedder_FallsBack(t *testing.T) {
	bad := NewEmbedder(&fakeEmbedProvider{dim: 2, failOn: "t1"}, EmbedderConfig{Dimension: 2})
	good := NewEmbedder(&fakeEmbedProvider{dim: 2}, EmbedderConfig{Dimension: 2})
	g, err := NewGroupEmbedder([]EmbedderEntry{{Name: "bad", Embedder: bad}, {Name: "good", Embedder: good}})
	require.NoError(t, err)

	v, err := g.Embed(context.Background(), "t1", TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, float32(1), v[0])

	vecs, err := g.EmbedBatch(context.Background(), inputs(3), TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	require.Equal(t, "bad|good", g.ModelName())

	_, err = g.Embed(context.Background(), " ", TaskRetrievalQuery)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestGroupEmbedder_RejectsMixedDimensions(t *testing.T) {
	a := NewEmbedder(&fakeEmbedProvider{dim: 2}, EmbedderConfig{Dimension: 2})
	b := NewEmbedder(&fakeEmbedProvider{dim: 3}, EmbedderConfig{Dimension: 3})
	_, err := NewGroupEmbedder([]EmbedderEntry{{Name: "a", Embedder: a}, {Name: "b", Embedder: b}})
	require.Error(t, err)

	_, err = NewGroupEmbedder(nil)
	require.Error(t, err)
}
