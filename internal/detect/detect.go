package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"highlightflow/internal/models"
	"highlightflow/internal/providers"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// dedupTolerance is how close two candidate starts must be to be treated as
// the same moment when chunk windows overlap.
const dedupTolerance = 0.5

type Options struct {
	ChunkSecs   float64
	OverlapSecs float64
	Concurrency int
}

type Input struct {
	MediaRef    string
	ContentType string
	Density     string
	Features    models.MediaFeatures
	Config      models.ProjectConfig
}

type Result struct {
	Candidates []providers.Candidate
	Cost       float64
	ZeroScores int
	Calls      []providers.CallRecord
}

type Detector struct {
	provider providers.AnalysisProvider
	opts     Options
	logger   zerolog.Logger
}

func New(provider providers.AnalysisProvider, opts Options, logger zerolog.Logger) *Detector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Detector{
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "detect").Logger(),
	}
}

// Detect asks the analysis service for candidates, one call per window for
// long media. Any failed window fails the whole detection.
func (d *Detector) Detect(ctx context.Context, in Input) (Result, error) {
	duration := in.Features.DurationSeconds
	windows := util.TimeWindows(duration, d.opts.ChunkSecs, d.opts.OverlapSecs)
	if len(windows) == 0 {
		return Result{}, fmt.Errorf("media duration %.3f: %w", duration, util.ErrInvalidMedia)
	}

	var (
		mu    sync.Mutex
		res   Result
		found []providers.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for _, w := range windows {
		w := w
		g.Go(func() error {
			req := providers.AnalyzeRequest{
				MediaRef:    in.MediaRef,
				ContentType: in.ContentType,
				Density:     in.Density,
				WindowStart: w.Start,
				WindowEnd:   w.End,
				MinSeconds:  in.Config.MinClipSeconds,
				MaxSeconds:  in.Config.MaxClipSeconds,
				Hints:       hintsFor(in.Features, w),
			}
			started := time.Now()
			resp, info, err := d.provider.Analyze(gctx, req)

			mu.Lock()
			defer mu.Unlock()
			res.Calls = append(res.Calls, providers.CallRecord{
				Operation: "analyze",
				Provider:  info,
				Cost:      resp.CostEstimate,
				Duration:  time.Since(started),
				Err:       err,
			})
			if err != nil {
				return fmt.Errorf("analyze window %.1f-%.1f: %w", w.Start, w.End, err)
			}
			res.Cost += resp.CostEstimate
			found = append(found, resp.Segments...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Candidates = Merge(clip(found, duration, in.Config))
	for _, c := range res.Candidates {
		if c.Score == 0 {
			res.ZeroScores++
			d.logger.Warn().Str("media", in.MediaRef).Float64("start", c.Start).Float64("end", c.End).Msg("analysis returned no annotation for window")
		}
	}
	if len(res.Candidates) == 0 {
		return res, fmt.Errorf("%s: %w", in.MediaRef, util.ErrNoCandidates)
	}
	d.logger.Info().Str("media", in.MediaRef).Int("windows", len(windows)).Int("candidates", len(res.Candidates)).
		Int("zero_scores", res.ZeroScores).Float64("cost", res.Cost).Msg("coarse detection complete")
	return res, nil
}

// Merge sorts candidates by start and collapses those starting within
// dedupTolerance of each other, keeping the higher score.
func Merge(in []providers.Candidate) []providers.Candidate {
	sorted := providers.NormalizeCandidates(in)
	out := make([]providers.Candidate, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && math.Abs(c.Start-out[n-1].Start) <= dedupTolerance {
			if c.Score > out[n-1].Score {
				out[n-1] = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// clip bounds candidates to the media and drops those shorter than the
// configured minimum. Over-long candidates are trimmed to the maximum.
func clip(in []providers.Candidate, duration float64, cfg models.ProjectConfig) []providers.Candidate {
	out := make([]providers.Candidate, 0, len(in))
	for _, c := range in {
		if duration > 0 && c.End > duration {
			c.End = duration
		}
		if cfg.MaxClipSeconds > 0 && c.End-c.Start > cfg.MaxClipSeconds {
			c.End = c.Start + cfg.MaxClipSeconds
		}
		if c.End <= c.Start {
			continue
		}
		if cfg.MinClipSeconds > 0 && c.End-c.Start < cfg.MinClipSeconds {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func hintsFor(f models.MediaFeatures, w util.Window) providers.Hints {
	h := providers.Hints{DurationSeconds: f.DurationSeconds}
	for _, p := range f.Peaks {
		if p.Timestamp >= w.Start && p.Timestamp < w.End {
			h.EnergyPeaks = append(h.EnergyPeaks, p.Timestamp)
		}
	}
	for _, c := range f.SceneCuts {
		if c.Timestamp >= w.Start && c.Timestamp < w.End {
			h.SceneCuts = append(h.SceneCuts, c.Timestamp)
		}
	}
	for _, s := range f.Silences {
		if s.End > w.Start && s.Start < w.End {
			h.Silences = append(h.Silences, [2]float64{s.Start, s.End})
		}
	}
	return h
}
