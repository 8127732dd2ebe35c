package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockAnalyzeIsDeterministic(t *testing.T) {
	m := NewMockProvider(8)
	req := AnalyzeRequest{
		MediaRef:    "objects/source.mp4",
		ContentType: "gaming",
		WindowStart: 0,
		WindowEnd:   120,
		MinSeconds:  5,
		MaxSeconds:  30,
		Hints:       Hints{DurationSeconds: 120, EnergyPeaks: []float64{12, 64}, SceneCuts: []float64{90}},
	}
	a, _, err := m.Analyze(context.Background(), req)
	require.NoError(t, err)
	b, _, err := m.Analyze(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a.Segments, 3)
	for _, c := range a.Segments {
		require.Less(t, c.Start, c.End)
		require.GreaterOrEqual(t, c.Score, 0.0)
		require.LessOrEqual(t, c.Score, 100.0)
	}
}

func TestMockAnalyzeWithoutHintsSpacesWindows(t *testing.T) {
	m := NewMockProvider(8)
	resp, _, err := m.Analyze(context.Background(), AnalyzeRequest{MediaRef: "x", WindowEnd: 60})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Segments)
	require.Equal(t, 0.0, resp.Segments[0].Start)
}

func TestMockRefineKeepsCandidateBounds(t *testing.T) {
	m := NewMockProvider(8)
	cands := []Candidate{{Start: 1, End: 6, Score: 50}, {Start: 20, End: 26, Score: 80}}
	resp, _, err := m.Refine(context.Background(), RefineRequest{MediaRef: "x", ContentType: "podcast", Candidates: cands})
	require.NoError(t, err)
	require.Len(t, resp.Segments, 2)
	for i, r := range resp.Segments {
		require.Equal(t, cands[i].Start, r.Start)
		require.Contains(t, []string{"hot-take", "story", "laugh"}, r.Classification)
		require.GreaterOrEqual(t, r.Confidence, 0.5)
	}
}

func TestMockEmbedUnitVectors(t *testing.T) {
	m := NewMockProvider(16)
	out, info, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "a", "b"}})
	require.NoError(t, err)
	require.Equal(t, "mock-embed-16", info.Model)
	require.Equal(t, out[0], out[1])
	require.NotEqual(t, out[0], out[2])
	var sum float64
	for _, x := range out[0] {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 1e-4)
}
