package providers

import (
	"math"
	"sort"
	"strings"

	"highlightflow/internal/util"
)

// NormalizeCandidates drops records with non-finite or inverted bounds,
// clamps scores into 0..100 and sorts by start.
func NormalizeCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if !finite(c.Start) || !finite(c.End) || c.Start < 0 || c.End <= c.Start {
			continue
		}
		if !finite(c.Score) {
			c.Score = 0
		}
		c.Score = clamp(c.Score, 0, 100)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// NormalizeRefined applies the same bounds rules as NormalizeCandidates and
// additionally clamps confidence into 0..1 and cleans free text.
func NormalizeRefined(in []RefinedSegment) []RefinedSegment {
	out := make([]RefinedSegment, 0, len(in))
	for _, r := range in {
		if !finite(r.Start) || !finite(r.End) || r.Start < 0 || r.End <= r.Start {
			continue
		}
		if !finite(r.Score) {
			r.Score = 0
		}
		if !finite(r.Confidence) {
			r.Confidence = 0
		}
		r.Score = clamp(r.Score, 0, 100)
		r.Confidence = clamp(r.Confidence, 0, 1)
		r.Classification = strings.ToLower(util.SanitizeText(r.Classification))
		r.Reasoning = util.SanitizeText(r.Reasoning)
		r.Tags = util.NormalizeTags(r.Tags)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
