package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// Hints are optional preprocessing signals passed to the analysis service as context.
type Hints struct {
	DurationSeconds float64      `json:"duration_seconds"`
	EnergyPeaks     []float64    `json:"energy_peaks,omitempty"`
	SceneCuts       []float64    `json:"scene_cuts,omitempty"`
	Silences        [][2]float64 `json:"silences,omitempty"`
}

type AnalyzeRequest struct {
	MediaRef    string  `json:"media_ref"`
	ContentType string  `json:"content_type"`
	Density     string  `json:"density"`
	WindowStart float64 `json:"window_start"`
	WindowEnd   float64 `json:"window_end"`
	MinSeconds  float64 `json:"min_seconds"`
	MaxSeconds  float64 `json:"max_seconds"`
	Hints       Hints   `json:"hints"`
}

type Candidate struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

type AnalyzeResponse struct {
	Segments     []Candidate `json:"segments"`
	CostEstimate float64     `json:"cost_estimate"`
}

type RefineRequest struct {
	MediaRef    string      `json:"media_ref"`
	ContentType string      `json:"content_type"`
	Candidates  []Candidate `json:"candidates"`
}

type RefinedSegment struct {
	Start          float64  `json:"start"`
	End            float64  `json:"end"`
	Score          float64  `json:"score"`
	Classification string   `json:"classification"`
	Reasoning      string   `json:"reasoning"`
	Confidence     float64  `json:"confidence"`
	Tags           []string `json:"tags"`
}

type RefineResponse struct {
	Segments     []RefinedSegment `json:"segments"`
	CostEstimate float64          `json:"cost_estimate"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

// AnalysisProvider backs both coarse detection and refinement. Implementations
// return validated records only; see Normalize.
type AnalysisProvider interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, ProviderInfo, error)
	Refine(ctx context.Context, req RefineRequest) (RefineResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
