package refine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"highlightflow/internal/providers"
	"highlightflow/internal/util"
)

type fakeRefiner struct {
	name  string
	conf  float64
	delay time.Duration
	err   error
	shift float64
}

func (f *fakeRefiner) Analyze(context.Context, providers.AnalyzeRequest) (providers.AnalyzeResponse, providers.ProviderInfo, error) {
	return providers.AnalyzeResponse{}, providers.ProviderInfo{}, errors.New("not used")
}

func (f *fakeRefiner) Refine(ctx context.Context, req providers.RefineRequest) (providers.RefineResponse, providers.ProviderInfo, error) {
	info := providers.ProviderInfo{Name: f.name}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return providers.RefineResponse{}, info, ctx.Err()
	}
	if f.err != nil {
		return providers.RefineResponse{}, info, f.err
	}
	out := make([]providers.RefinedSegment, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		out = append(out, providers.RefinedSegment{
			Start: c.Start + f.shift, End: c.End, Score: c.Score + 5,
			Classification: "clutch-play", Reasoning: f.name, Confidence: f.conf,
		})
	}
	return providers.RefineResponse{Segments: out, CostEstimate: 0.1}, info, nil
}

var candidates = []providers.Candidate{
	{Start: 0, End: 5, Score: 60},
	{Start: 10, End: 15, Score: 40},
	{Start: 20, End: 25, Score: 90},
}

func TestMatchNearestStartWithinTolerance(t *testing.T) {
	refined := []providers.RefinedSegment{
		{Start: 9.2, End: 15, Score: 45, Confidence: 0.9, Classification: "story"},
		{Start: 10.5, End: 15, Score: 47, Confidence: 0.8, Classification: "laugh"},
		{Start: 0.4, End: 5, Score: 65, Confidence: 0.7},
	}
	segs, unmatched := Match(candidates, refined, 2, 0.5)
	require.Equal(t, 1, unmatched)

	require.True(t, segs[0].Matched)
	require.Equal(t, 65.0, segs[0].Score)
	require.Equal(t, 0.0, segs[0].Start)

	require.Equal(t, "laugh", segs[1].Classification)

	require.False(t, segs[2].Matched)
	require.Equal(t, 90.0, segs[2].Score)
	require.Equal(t, 0.25, segs[2].Confidence)
	require.Equal(t, "unrefined", segs[2].Classification)
}

func TestMatchUsesEachRefinedRecordOnce(t *testing.T) {
	cands := []providers.Candidate{{Start: 10, End: 14, Score: 50}, {Start: 11, End: 15, Score: 55}}
	refined := []providers.RefinedSegment{{Start: 10.6, End: 14, Score: 70, Confidence: 1}}
	segs, unmatched := Match(cands, refined, 2, 0.5)
	require.Equal(t, 1, unmatched)
	require.True(t, segs[1].Matched)
	require.False(t, segs[0].Matched)
}

func TestRefineEarlyStopTakesFirstConfidentResponse(t *testing.T) {
	fast := &fakeRefiner{name: "fast", conf: 0.85, delay: time.Millisecond}
	slow := &fakeRefiner{name: "slow", conf: 0.99, delay: time.Second}
	r := New([]providers.AnalysisProvider{slow, fast}, Options{Policy: Policy{EarlyStopThreshold: 0.8}}, zerolog.Nop())

	res, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.NoError(t, err)
	require.Equal(t, "fast", res.Provider.Name)
	require.Len(t, res.Segments, 3)
	require.Zero(t, res.Unmatched)
	require.Equal(t, 65.0, res.Segments[0].Score)
	require.InDelta(t, 0.1, res.Cost, 1e-9)
}

func TestRefineExhaustivePicksHighestConfidence(t *testing.T) {
	a := &fakeRefiner{name: "a", conf: 0.85, delay: time.Millisecond}
	b := &fakeRefiner{name: "b", conf: 0.95, delay: 20 * time.Millisecond}
	r := New([]providers.AnalysisProvider{a, b}, Options{Policy: Policy{EarlyStopThreshold: 0.8, Exhaustive: true}}, zerolog.Nop())

	res, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.NoError(t, err)
	require.Equal(t, "b", res.Provider.Name)
	require.InDelta(t, 0.2, res.Cost, 1e-9)
	require.Len(t, res.Calls, 2)
}

func TestRefineFallsBackWhenOneProviderFails(t *testing.T) {
	bad := &fakeRefiner{name: "bad", err: errors.New("boom")}
	ok := &fakeRefiner{name: "ok", conf: 0.4, delay: 5 * time.Millisecond}
	r := New([]providers.AnalysisProvider{bad, ok}, Options{Policy: Policy{EarlyStopThreshold: 0.8}}, zerolog.Nop())

	res, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Provider.Name)
}

func TestRefineWholeBatchFailure(t *testing.T) {
	r := New([]providers.AnalysisProvider{&fakeRefiner{name: "bad", err: errors.New("boom")}}, Options{}, zerolog.Nop())
	_, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.ErrorContains(t, err, "refine batch failed")
}

func TestRefineBatchFailureKeepsTransientCause(t *testing.T) {
	transient := &fakeRefiner{name: "groq", err: providers.Classify(errors.New("groq refine error 503: overloaded"))}
	permanent := &fakeRefiner{name: "openai", err: providers.Classify(errors.New("openai refine error 401: invalid api key")), delay: 10 * time.Millisecond}
	r := New([]providers.AnalysisProvider{transient, permanent}, Options{}, zerolog.Nop())

	_, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.ErrorIs(t, err, util.ErrTransientService)
	require.NotErrorIs(t, err, util.ErrPermanentService)

	r = New([]providers.AnalysisProvider{permanent}, Options{}, zerolog.Nop())
	_, err = r.Refine(context.Background(), "m", "gaming", candidates)
	require.ErrorIs(t, err, util.ErrPermanentService)
}

func TestRefineShiftedBoundsKeepCoarseStart(t *testing.T) {
	r := New([]providers.AnalysisProvider{&fakeRefiner{name: "s", conf: 0.9, shift: 1.5}}, Options{}, zerolog.Nop())
	res, err := r.Refine(context.Background(), "m", "gaming", candidates)
	require.NoError(t, err)
	for i, s := range res.Segments {
		require.True(t, s.Matched)
		require.Equal(t, candidates[i].Start, s.Start)
	}
}
