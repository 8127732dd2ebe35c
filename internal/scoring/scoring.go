package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"highlightflow/internal/config"
	"highlightflow/internal/models"
)

var ErrUnknownSegment = errors.New("feedback references unknown segment")

type Config struct {
	AcceptThreshold       float64
	TargetClipCount       int
	PeakBonus             float64
	TransitionBonus       float64
	MaxBonus              float64
	SilencePenalty        float64
	SilenceRatioThreshold float64
	FeedbackDelta         float64
}

func ConfigFrom(t config.ScoringTuning, targetClips int) Config {
	return Config{
		AcceptThreshold:       t.AcceptThreshold,
		TargetClipCount:       targetClips,
		PeakBonus:             t.PeakBonus,
		TransitionBonus:       t.TransitionBonus,
		MaxBonus:              t.MaxBonus,
		SilencePenalty:        t.SilencePenalty,
		SilenceRatioThreshold: t.SilenceRatioThreshold,
		FeedbackDelta:         t.FeedbackDelta,
	}
}

// Result is a full scoring pass over one project, in rank order.
type Result struct {
	Segments    []models.Segment
	Recommended int
	Rejected    int
	Pending     int
	Failed      int
}

// SignalAdjustment is the bounded additive boost or penalty derived from
// preprocessing features.
func SignalAdjustment(f models.SegmentFeatures, cfg Config) float64 {
	bonus := 0.0
	if f.OverlapsPeak {
		bonus += cfg.PeakBonus
	}
	if f.AfterSilence {
		bonus += cfg.TransitionBonus
	}
	if cfg.MaxBonus > 0 && bonus > cfg.MaxBonus {
		bonus = cfg.MaxBonus
	}
	penalty := 0.0
	if cfg.SilenceRatioThreshold > 0 && f.SilenceRatio >= cfg.SilenceRatioThreshold {
		penalty = cfg.SilencePenalty * math.Min(1, f.SilenceRatio)
	}
	return bonus - penalty
}

// base is the score that signal and feedback adjustments apply to. It is nil
// while the segment still waits for refinement.
func base(s models.Segment) *float64 {
	if s.EmbeddingScore != nil {
		return s.EmbeddingScore
	}
	return s.RefinedScore
}

// Score computes FinalScore for every segment that has a base score. The
// input is not modified.
func Score(segments []models.Segment, cfg Config) []models.Segment {
	out := make([]models.Segment, len(segments))
	for i, s := range segments {
		b := base(s)
		if b == nil {
			s.FinalScore = nil
			out[i] = s
			continue
		}
		s.SignalAdjustment = SignalAdjustment(s.Features, cfg)
		s.FinalScore = models.Float(clamp(*b + s.SignalAdjustment + s.FeedbackAdjustment))
		out[i] = s
	}
	return out
}

// Rank orders scored segments by final score descending, then earlier start,
// then id. Unscored and failed segments follow in start order.
func Rank(segments []models.Segment) []models.Segment {
	out := append([]models.Segment(nil), segments...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ra, rb := rankable(a), rankable(b)
		if ra != rb {
			return ra
		}
		if ra && *a.FinalScore != *b.FinalScore {
			return *a.FinalScore > *b.FinalScore
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.SegmentID < b.SegmentID
	})
	return out
}

func rankable(s models.Segment) bool {
	return s.FinalScore != nil && s.Status != models.SegmentFailed
}

// AssignStatus walks ranked segments and promotes at most TargetClipCount of
// those at or above the acceptance threshold. Failed segments keep their
// status.
func AssignStatus(ranked []models.Segment, cfg Config) Result {
	res := Result{Segments: make([]models.Segment, len(ranked))}
	for i, s := range ranked {
		switch {
		case s.Status == models.SegmentFailed:
			res.Failed++
		case s.FinalScore == nil:
			s.Status = models.SegmentPending
			res.Pending++
		case res.Recommended < cfg.TargetClipCount && *s.FinalScore >= cfg.AcceptThreshold:
			s.Status = models.SegmentRecommended
			res.Recommended++
		default:
			s.Status = models.SegmentRejected
			res.Rejected++
		}
		res.Segments[i] = s
	}
	return res
}

// Apply runs Score, Rank and AssignStatus.
func Apply(segments []models.Segment, cfg Config) Result {
	return AssignStatus(Rank(Score(segments, cfg)), cfg)
}

// Rebalance records feedback on the referenced segments and re-runs scoring
// over the whole project. A verdict already recorded on a segment is not
// applied again, so repeating the same feedback changes nothing. An opposite
// verdict replaces the earlier adjustment. Unknown segment ids reject the
// whole batch.
func Rebalance(segments []models.Segment, feedback []models.FeedbackItem, cfg Config) (Result, int, error) {
	idx := make(map[string]int, len(segments))
	for i, s := range segments {
		idx[s.SegmentID] = i
	}
	for _, f := range feedback {
		if !f.Verdict.Valid() {
			return Result{}, 0, fmt.Errorf("segment %s: invalid verdict %q", f.SegmentID, f.Verdict)
		}
		if _, ok := idx[f.SegmentID]; !ok {
			return Result{}, 0, fmt.Errorf("%w: %s", ErrUnknownSegment, f.SegmentID)
		}
	}

	work := append([]models.Segment(nil), segments...)
	applied := 0
	for _, f := range feedback {
		s := &work[idx[f.SegmentID]]
		if s.FeedbackVerdict == f.Verdict {
			continue
		}
		s.FeedbackVerdict = f.Verdict
		if f.Verdict == models.VerdictAccept {
			s.FeedbackAdjustment = cfg.FeedbackDelta
		} else {
			s.FeedbackAdjustment = -cfg.FeedbackDelta
		}
		applied++
	}
	return Apply(work, cfg), applied, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
