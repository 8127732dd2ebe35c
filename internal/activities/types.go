package activities

import "highlightflow/internal/models"

type ProjectInput struct {
	ProjectID string `json:"project_id"`
}

type LoadProjectOutput struct {
	Project models.Project `json:"project"`
}

type StageInput struct {
	ProjectID string       `json:"project_id"`
	Stage     models.Stage `json:"stage"`
}

// StageResult is what every paid or analysing stage reports back.
type StageResult struct {
	Cost     float64  `json:"cost"`
	Items    int      `json:"items"`
	Degraded []string `json:"degraded,omitempty"`
}

type ReserveBudgetInput struct {
	ProjectID string       `json:"project_id"`
	Stage     models.Stage `json:"stage"`
}

type ReserveBudgetOutput struct {
	Estimate float64 `json:"estimate"`
}

type ScoreOutput struct {
	Recommended int `json:"recommended"`
	Rejected    int `json:"rejected"`
	Pending     int `json:"pending"`
	Failed      int `json:"failed"`
}

type ListClipTargetsOutput struct {
	SegmentIDs []string `json:"segment_ids"`
}

type ClipInput struct {
	ProjectID string `json:"project_id"`
	SegmentID string `json:"segment_id"`
}

type ClipOutput struct {
	URI string `json:"uri"`
}

type MarkClipFailedInput struct {
	SegmentID string `json:"segment_id"`
	Message   string `json:"message"`
}

type CommitStageInput struct {
	ProjectID string       `json:"project_id"`
	Stage     models.Stage `json:"stage"`
	Cost      float64      `json:"cost"`
}

type FailProjectInput struct {
	ProjectID string       `json:"project_id"`
	Stage     models.Stage `json:"stage"`
	Kind      string       `json:"kind"`
	Message   string       `json:"message"`
}

type ReleaseRunInput struct {
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
}

type RecordCostOutput struct {
	Cost float64 `json:"cost"`
}

type WriteRunManifestInput struct {
	ProjectID string         `json:"project_id"`
	RunID     string         `json:"run_id"`
	Manifest  map[string]any `json:"manifest"`
}

type WriteRunManifestOutput struct {
	Path string `json:"path"`
}

// coarseArtifact is the stored output of coarse detection.
type coarseArtifact struct {
	Candidates []candidate `json:"candidates"`
	ZeroScores int         `json:"zero_scores"`
}

type candidate struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}
