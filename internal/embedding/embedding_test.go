package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"highlightflow/internal/models"
	"highlightflow/internal/providers"
)

// axisEmbedder maps text containing "clutch" onto the x axis and everything
// else onto y. Prototypes are embedded the same way.
type axisEmbedder struct {
	calls atomic.Int32
	fail  string
}

func (a *axisEmbedder) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	a.calls.Add(1)
	out := make([][]float32, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		if a.fail != "" && strings.Contains(in, a.fail) {
			return nil, providers.ProviderInfo{Name: "axis"}, errors.New("embed timeout")
		}
		if strings.Contains(in, "clutch") {
			out = append(out, []float32{1, 0})
		} else {
			out = append(out, []float32{0, 1})
		}
	}
	return out, providers.ProviderInfo{Name: "axis"}, nil
}

type memStore struct {
	mu      sync.Mutex
	data    map[string][][]float32
	saves   int
	saveErr error
}

func (m *memStore) LoadPrototypes(_ context.Context, key CacheKey) ([][]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key.String()]
	return v, ok, nil
}

func (m *memStore) SavePrototypes(_ context.Context, key CacheKey, _ []string, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.data == nil {
		m.data = map[string][][]float32{}
	}
	m.data[key.String()] = vectors
	m.saves++
	return nil
}

func refined(id string, start, score float64, reasoning string) models.Segment {
	return models.Segment{
		SegmentID:     id,
		StartTime:     start,
		EndTime:       start + 5,
		RefinedScore:  models.Float(score),
		HighlightType: "play",
		Reasoning:     reasoning,
		Status:        models.SegmentPending,
	}
}

func defaultOpts(k int) Options {
	return Options{TopK: k, Concurrency: 2, PriorWeight: 0.6, SimWeight: 0.4, TopSimilars: 3, CostPerCall: 0.01}
}

func TestBlendFormula(t *testing.T) {
	// mean of top three sims = (1 + 0.5 + 0) / 3 = 0.5
	got := Blend(70, []float64{1, 0.5, 0, -0.2}, defaultOpts(5))
	require.Equal(t, 62.0, got)
	require.Equal(t, 100.0, Blend(100, []float64{1}, Options{PriorWeight: 1, SimWeight: 1}))
	require.Equal(t, 0.0, Blend(0, []float64{-1}, defaultOpts(5)))
	require.Equal(t, 42.0, Blend(70, nil, defaultOpts(5)))
}

func TestTopKSelectsHighestRefined(t *testing.T) {
	segs := []models.Segment{refined("a", 0, 60, ""), refined("b", 10, 90, ""), refined("c", 20, 60, ""), {SegmentID: "d", StartTime: 30, EndTime: 35}}
	require.Equal(t, []int{1, 0}, TopK(segs, 2))
	require.Nil(t, TopK(segs, 0))
	require.Len(t, TopK(segs, 10), 3)
}

func TestEnhanceOnlyTopKAndToleratesFailures(t *testing.T) {
	emb := &axisEmbedder{fail: "broken"}
	cache := NewPrototypeCache(emb, nil, "axis", "v1", 2, zerolog.Nop())
	e := NewEnhancer(emb, cache, defaultOpts(2), zerolog.Nop())

	segs := []models.Segment{
		refined("a", 0, 80, "clutch finish"),
		refined("b", 10, 90, "broken moment"),
		refined("c", 20, 50, "quiet"),
	}
	res, err := e.Enhance(context.Background(), "gaming", segs)
	require.NoError(t, err)
	require.Equal(t, 1, res.Enhanced)
	require.Equal(t, []string{"b"}, res.Failed)
	require.NotNil(t, res.Segments[0].EmbeddingScore)
	require.Nil(t, res.Segments[1].EmbeddingScore)
	require.Nil(t, res.Segments[2].EmbeddingScore)
	require.Nil(t, segs[0].EmbeddingScore)
	require.InDelta(t, 0.02, res.Cost, 1e-9)
	require.Len(t, res.Calls, 2)
}

func TestEnhanceDisabledWithZeroK(t *testing.T) {
	emb := &axisEmbedder{}
	e := NewEnhancer(emb, NewPrototypeCache(emb, nil, "axis", "v1", 2, zerolog.Nop()), defaultOpts(0), zerolog.Nop())
	res, err := e.Enhance(context.Background(), "gaming", []models.Segment{refined("a", 0, 80, "x")})
	require.NoError(t, err)
	require.Zero(t, res.Enhanced)
	require.Zero(t, emb.calls.Load())
}

func TestEnhancePrototypeFailureFallsBack(t *testing.T) {
	emb := &axisEmbedder{fail: "clutch"}
	e := NewEnhancer(emb, NewPrototypeCache(emb, nil, "axis", "v1", 2, zerolog.Nop()), defaultOpts(3), zerolog.Nop())
	res, err := e.Enhance(context.Background(), "gaming", []models.Segment{refined("a", 0, 80, "x")})
	require.NoError(t, err)
	require.NotEmpty(t, res.Degraded)
	require.Nil(t, res.Segments[0].EmbeddingScore)
}

func TestPrototypeCacheMemoizesAndPersists(t *testing.T) {
	emb := &axisEmbedder{}
	store := &memStore{}
	cache := NewPrototypeCache(emb, store, "axis", "v1", 2, zerolog.Nop())
	descs := Prototypes("podcast", nil)

	first, computed, err := cache.Vectors(context.Background(), "podcast", descs)
	require.NoError(t, err)
	require.True(t, computed)
	second, computed, err := cache.Vectors(context.Background(), "podcast", descs)
	require.NoError(t, err)
	require.False(t, computed)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), emb.calls.Load())
	require.Equal(t, 1, store.saves)

	fresh := NewPrototypeCache(emb, store, "axis", "v1", 2, zerolog.Nop())
	_, computed, err = fresh.Vectors(context.Background(), "podcast", descs)
	require.NoError(t, err)
	require.False(t, computed)
	require.Equal(t, int32(1), emb.calls.Load())
}

func TestPrototypeCacheSaveFailureStillServesVectors(t *testing.T) {
	emb := &axisEmbedder{}
	store := &memStore{saveErr: errors.New("connection reset")}
	cache := NewPrototypeCache(emb, store, "axis", "v1", 2, zerolog.Nop())
	descs := Prototypes("gaming", nil)

	vecs, computed, err := cache.Vectors(context.Background(), "gaming", descs)
	require.NoError(t, err)
	require.True(t, computed)
	require.Len(t, vecs, len(descs))

	_, computed, err = cache.Vectors(context.Background(), "gaming", descs)
	require.NoError(t, err)
	require.False(t, computed)
	require.Equal(t, int32(1), emb.calls.Load())

	e := NewEnhancer(emb, NewPrototypeCache(emb, store, "axis", "v1", 2, zerolog.Nop()), defaultOpts(3), zerolog.Nop())
	res, err := e.Enhance(context.Background(), "gaming", []models.Segment{refined("a", 0, 80, "clutch finish")})
	require.NoError(t, err)
	require.Empty(t, res.Degraded)
	require.NotNil(t, res.Segments[0].EmbeddingScore)
}

func TestPrototypesExtendAndFallback(t *testing.T) {
	extra := map[string][]string{"gaming": {"last second buzzer beater", ""}, "cooking": {"perfect flip"}}
	gaming := Prototypes("Gaming", extra)
	require.Equal(t, "last second buzzer beater", gaming[len(gaming)-1])
	require.Equal(t, []string{"perfect flip"}, Prototypes("cooking", extra))
	require.Equal(t, builtinPrototypes["default"], Prototypes("unknown", nil))
	require.Contains(t, ContentTypes(extra), "cooking")
}

func TestDescribe(t *testing.T) {
	s := refined("a", 0, 80, "great save")
	s.ContentTags = []string{"save", "goal"}
	require.Equal(t, "play: great save save goal", Describe(s, "gaming"))
	require.Equal(t, "vlog moment from 1.0s to 2.0s", Describe(models.Segment{StartTime: 1, EndTime: 2}, "vlog"))
}
