package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"highlightflow/internal/models"
	"highlightflow/internal/providers"
	"highlightflow/internal/util"
	"highlightflow/internal/vector"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	TopK        int
	Concurrency int
	PriorWeight float64
	SimWeight   float64
	TopSimilars int
	Dimension   int
	CostPerCall float64
	Extra       map[string][]string
}

type Result struct {
	Segments []models.Segment
	Enhanced int
	Failed   []string
	Degraded string
	Cost     float64
	Calls    []providers.CallRecord
}

type Enhancer struct {
	embedder providers.EmbeddingProvider
	cache    *PrototypeCache
	opts     Options
	logger   zerolog.Logger
}

func NewEnhancer(embedder providers.EmbeddingProvider, cache *PrototypeCache, opts Options, logger zerolog.Logger) *Enhancer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.TopSimilars <= 0 {
		opts.TopSimilars = 3
	}
	return &Enhancer{
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}
}

// Enhance sets EmbeddingScore on the top-K segments by refined score. Segments
// outside the top-K, and those whose embedding call fails, keep a nil
// EmbeddingScore. The returned segments are copies in input order.
func (e *Enhancer) Enhance(ctx context.Context, contentType string, segments []models.Segment) (Result, error) {
	res := Result{Segments: append([]models.Segment(nil), segments...)}
	for i := range res.Segments {
		res.Segments[i].EmbeddingScore = nil
	}
	targets := TopK(res.Segments, e.opts.TopK)
	if len(targets) == 0 {
		return res, nil
	}

	descriptions := Prototypes(contentType, e.opts.Extra)
	protos, computed, err := e.cache.Vectors(ctx, contentType, descriptions)
	if computed {
		res.Cost += e.opts.CostPerCall
	}
	if err != nil {
		// Without prototypes nothing can be compared; all segments fall back.
		e.logger.Warn().Err(err).Str("content_type", contentType).Msg("prototype embedding unavailable")
		res.Degraded = err.Error()
		return res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, idx := range targets {
		idx := idx
		seg := res.Segments[idx]
		g.Go(func() error {
			started := time.Now()
			vecs, info, err := e.embedder.Embed(gctx, providers.EmbedRequest{
				Operation: "segment",
				Inputs:    []string{Describe(seg, contentType)},
				Dimension: e.opts.Dimension,
			})
			if err == nil && len(vecs) != 1 {
				err = fmt.Errorf("got %d vectors for 1 input", len(vecs))
			}
			rec := providers.CallRecord{Operation: "embed", Provider: info, Duration: time.Since(started), Err: err}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, seg.SegmentID)
				res.Calls = append(res.Calls, rec)
				e.logger.Warn().Err(fmt.Errorf("%w: %w", util.ErrPartialSegment, err)).Str("segment_id", seg.SegmentID).Msg("segment embedding failed")
				return nil
			}
			rec.Cost = e.opts.CostPerCall
			res.Calls = append(res.Calls, rec)
			res.Cost += rec.Cost

			score := Blend(*seg.RefinedScore, similarities(vecs[0], protos), e.opts)
			res.Segments[idx].EmbeddingScore = &score
			res.Enhanced++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	sort.Strings(res.Failed)
	e.logger.Info().Str("content_type", contentType).Int("targets", len(targets)).Int("enhanced", res.Enhanced).
		Int("failed", len(res.Failed)).Float64("cost", res.Cost).Msg("embedding enhancement complete")
	return res, nil
}

// TopK returns the indexes of at most k segments with a refined score,
// highest first, earlier start breaking ties.
func TopK(segments []models.Segment, k int) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, 0, len(segments))
	for i, s := range segments {
		if s.RefinedScore != nil && s.Status != models.SegmentFailed {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := segments[idx[a]], segments[idx[b]]
		if *sa.RefinedScore != *sb.RefinedScore {
			return *sa.RefinedScore > *sb.RefinedScore
		}
		return sa.StartTime < sb.StartTime
	})
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}

// Blend mixes the prior score with the mean of the strongest prototype
// similarities and clamps the result into 0..100.
func Blend(prior float64, sims []float64, opts Options) float64 {
	v := math.Round(prior*opts.PriorWeight + 100*vector.TopMean(sims, opts.TopSimilars)*opts.SimWeight)
	return math.Max(0, math.Min(100, v))
}

// Describe is the text embedded for a segment.
func Describe(s models.Segment, contentType string) string {
	parts := make([]string, 0, 3)
	if s.HighlightType != "" {
		parts = append(parts, s.HighlightType+":")
	}
	if s.Reasoning != "" {
		parts = append(parts, s.Reasoning)
	}
	if len(s.ContentTags) > 0 {
		parts = append(parts, strings.Join(s.ContentTags, " "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s moment from %.1fs to %.1fs", contentType, s.StartTime, s.EndTime)
	}
	return strings.Join(parts, " ")
}

func similarities(v []float32, protos [][]float32) []float64 {
	out := make([]float64, 0, len(protos))
	for _, p := range protos {
		out = append(out, vector.Cosine(v, p))
	}
	return out
}
