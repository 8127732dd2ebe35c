package refine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"highlightflow/internal/providers"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// coarseConfidence is the confidence assumed for a candidate that only has a
// coarse score.
const coarseConfidence = 0.5

const unrefinedClass = "unrefined"

// Policy decides which provider response wins when several are configured.
// Without Exhaustive, the first response whose mean confidence reaches
// EarlyStopThreshold wins and the remaining calls are cancelled. Otherwise
// the response with the highest mean confidence wins.
type Policy struct {
	EarlyStopThreshold float64
	Exhaustive         bool
}

type Options struct {
	MatchTolerance   float64
	UnmatchedPenalty float64
	Policy           Policy
}

// Segment is a coarse candidate merged with its refined record. Bounds are
// always the coarse candidate's so a re-run maps onto the same rows.
type Segment struct {
	Start          float64
	End            float64
	CoarseScore    float64
	Score          float64
	Confidence     float64
	Classification string
	Reasoning      string
	Tags           []string
	Matched        bool
}

type Result struct {
	Segments  []Segment
	Cost      float64
	Unmatched int
	Provider  providers.ProviderInfo
	Calls     []providers.CallRecord
}

type Refiner struct {
	providers []providers.AnalysisProvider
	opts      Options
	logger    zerolog.Logger
}

func New(ps []providers.AnalysisProvider, opts Options, logger zerolog.Logger) *Refiner {
	if opts.MatchTolerance <= 0 {
		opts.MatchTolerance = 2
	}
	if opts.UnmatchedPenalty <= 0 {
		opts.UnmatchedPenalty = 0.5
	}
	return &Refiner{providers: ps, opts: opts, logger: logger.With().Str("component", "refine").Logger()}
}

type attempt struct {
	resp providers.RefineResponse
	info providers.ProviderInfo
	mean float64
}

// Refine re-evaluates all candidates in one batched call per provider. It
// fails only when every provider fails.
func (r *Refiner) Refine(ctx context.Context, mediaRef, contentType string, candidates []providers.Candidate) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, errors.New("refine: no candidates")
	}
	if len(r.providers) == 0 {
		return Result{}, errors.New("refine: no analysis provider configured")
	}
	req := providers.RefineRequest{MediaRef: mediaRef, ContentType: contentType, Candidates: candidates}

	best, res, err := r.call(ctx, req)
	if err != nil {
		return res, err
	}
	res.Provider = best.info
	res.Segments, res.Unmatched = Match(candidates, best.resp.Segments, r.opts.MatchTolerance, r.opts.UnmatchedPenalty)
	r.logger.Info().Str("media", mediaRef).Str("provider", best.info.Name).Int("candidates", len(candidates)).
		Int("unmatched", res.Unmatched).Float64("mean_confidence", best.mean).Float64("cost", res.Cost).Msg("refinement complete")
	return res, nil
}

func (r *Refiner) call(ctx context.Context, req providers.RefineRequest) (attempt, Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		attempt
		rec providers.CallRecord
	}
	outcomes := make(chan outcome, len(r.providers))
	var g errgroup.Group
	for _, p := range r.providers {
		p := p
		g.Go(func() error {
			started := time.Now()
			resp, info, err := p.Refine(ctx, req)
			outcomes <- outcome{
				attempt: attempt{resp: resp, info: info, mean: meanConfidence(resp.Segments)},
				rec:     providers.CallRecord{Operation: "refine", Provider: info, Cost: resp.CostEstimate, Duration: time.Since(started), Err: err},
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	var (
		res          Result
		best         *attempt
		lastErr      error
		transientErr error
		stopped      bool
	)
	for o := range outcomes {
		res.Calls = append(res.Calls, o.rec)
		if o.rec.Err != nil {
			if !stopped {
				lastErr = o.rec.Err
				if errors.Is(o.rec.Err, util.ErrTransientService) {
					transientErr = o.rec.Err
				}
				r.logger.Warn().Err(o.rec.Err).Str("provider", o.info.Name).Msg("refine provider failed")
			}
			continue
		}
		res.Cost += o.resp.CostEstimate
		if stopped {
			continue
		}
		a := o.attempt
		if best == nil || a.mean > best.mean {
			best = &a
		}
		if !r.opts.Policy.Exhaustive && a.mean >= r.opts.Policy.EarlyStopThreshold {
			stopped = true
			best = &a
			cancel()
		}
	}
	if best == nil {
		// A retry can only help when some provider failed transiently.
		if transientErr != nil {
			lastErr = transientErr
		}
		return attempt{}, res, fmt.Errorf("refine batch failed: %w", lastErr)
	}
	return *best, res, nil
}

// Match pairs each candidate with the refined record whose start is nearest
// within tolerance. Closest pairs are taken first and each refined record is
// used at most once. Unmatched candidates keep their coarse score with a
// penalized confidence.
func Match(candidates []providers.Candidate, refined []providers.RefinedSegment, tolerance, penalty float64) ([]Segment, int) {
	type pair struct {
		c, r int
		dist float64
	}
	pairs := make([]pair, 0)
	for ci, c := range candidates {
		for ri, rs := range refined {
			if d := math.Abs(c.Start - rs.Start); d <= tolerance {
				pairs = append(pairs, pair{c: ci, r: ri, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].c != pairs[j].c {
			return pairs[i].c < pairs[j].c
		}
		return pairs[i].r < pairs[j].r
	})

	matchOf := make([]int, len(candidates))
	for i := range matchOf {
		matchOf[i] = -1
	}
	used := make([]bool, len(refined))
	for _, p := range pairs {
		if matchOf[p.c] >= 0 || used[p.r] {
			continue
		}
		matchOf[p.c] = p.r
		used[p.r] = true
	}

	out := make([]Segment, 0, len(candidates))
	unmatched := 0
	for ci, c := range candidates {
		s := Segment{Start: c.Start, End: c.End, CoarseScore: c.Score}
		if ri := matchOf[ci]; ri >= 0 {
			rs := refined[ri]
			s.Score = rs.Score
			s.Confidence = rs.Confidence
			s.Classification = rs.Classification
			s.Reasoning = rs.Reasoning
			s.Tags = rs.Tags
			s.Matched = true
		} else {
			s.Score = c.Score
			s.Confidence = coarseConfidence * penalty
			s.Classification = unrefinedClass
			unmatched++
		}
		out = append(out, s)
	}
	return out, unmatched
}

func meanConfidence(segs []providers.RefinedSegment) float64 {
	if len(segs) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segs {
		sum += s.Confidence
	}
	return sum / float64(len(segs))
}
