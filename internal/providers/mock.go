package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// MockProvider is deterministic: identical requests always produce identical
// candidates, refinements and vectors. It costs nothing.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 768
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "mock", Model: model, Key: "mock"}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, m.info(fmt.Sprintf("mock-embed-%d", dim)), nil
}

// Analyze proposes one candidate per energy peak or scene cut in the window,
// falling back to evenly spaced windows when no hints are present.
func (m *MockProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, ProviderInfo, error) {
	_ = ctx
	length := 15.0
	if req.MinSeconds > 0 && length < req.MinSeconds {
		length = req.MinSeconds
	}
	if req.MaxSeconds > 0 && length > req.MaxSeconds {
		length = req.MaxSeconds
	}
	end := req.WindowEnd
	if end <= req.WindowStart {
		end = req.Hints.DurationSeconds
	}

	anchors := make([]float64, 0)
	for _, t := range append(append([]float64{}, req.Hints.EnergyPeaks...), req.Hints.SceneCuts...) {
		if t >= req.WindowStart && t < end {
			anchors = append(anchors, t)
		}
	}
	if len(anchors) == 0 {
		for t := req.WindowStart; t+length <= end; t += 2 * length {
			anchors = append(anchors, t)
		}
	}
	sort.Float64s(anchors)

	out := make([]Candidate, 0, len(anchors))
	last := math.Inf(-1)
	for _, a := range anchors {
		start := math.Max(req.WindowStart, a-length/3)
		if start < last {
			continue
		}
		stop := math.Min(end, start+length)
		if stop <= start {
			continue
		}
		score := float64(hashUint(req.MediaRef, fmt.Sprintf("coarse:%.3f", start)) % 101)
		out = append(out, Candidate{Start: start, End: stop, Score: score})
		last = stop
	}
	return AnalyzeResponse{Segments: NormalizeCandidates(out)}, m.info("mock-analysis-v1"), nil
}

func (m *MockProvider) Refine(ctx context.Context, req RefineRequest) (RefineResponse, ProviderInfo, error) {
	_ = ctx
	out := make([]RefinedSegment, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		h := hashUint(req.MediaRef, fmt.Sprintf("refine:%.3f", c.Start))
		jitter := float64(int(h%21) - 10)
		out = append(out, RefinedSegment{
			Start:          c.Start,
			End:            c.End,
			Score:          c.Score + jitter,
			Classification: mockClassification(req.ContentType, h),
			Reasoning:      "Deterministic mock refinement.",
			Confidence:     0.5 + float64(h%50)/100,
			Tags:           []string{strings.ToLower(strings.TrimSpace(req.ContentType)), "mock"},
		})
	}
	return RefineResponse{Segments: NormalizeRefined(out)}, m.info("mock-refine-v1"), nil
}

func mockClassification(contentType string, h uint32) string {
	kinds := map[string][]string{
		"gaming":   {"clutch-play", "funny-fail", "reaction"},
		"podcast":  {"hot-take", "story", "laugh"},
		"vlog":     {"reveal", "reaction", "scenic"},
		"tutorial": {"key-step", "result", "tip"},
	}
	list, ok := kinds[strings.ToLower(contentType)]
	if !ok {
		list = []string{"highlight", "reaction"}
	}
	return list[int(h)%len(list)]
}

func hashUint(parts ...string) uint32 {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return binary.BigEndian.Uint32(h[:4])
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
