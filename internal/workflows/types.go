package workflows

import "highlightflow/internal/config"

type PipelineInput struct {
	ProjectID          string               `json:"project_id"`
	RunID              string               `json:"run_id"`
	Timeouts           config.StageTimeouts `json:"timeouts"`
	MaxConcurrentClips int                  `json:"max_concurrent_clips"`
	MaxAttempts        int                  `json:"max_attempts"`
}

// PipelineStatus is what GetPipelineStatus returns while a run is in flight.
type PipelineStatus struct {
	ProjectID   string             `json:"project_id"`
	RunID       string             `json:"run_id"`
	Stage       string             `json:"stage"`
	Status      string             `json:"status"`
	Cost        float64            `json:"cost"`
	Stages      map[string]string  `json:"stages"`
	StageCosts  map[string]float64 `json:"stage_costs"`
	Degraded    []string           `json:"degraded,omitempty"`
	ClipsTotal  int                `json:"clips_total"`
	ClipsDone   int                `json:"clips_done"`
	ClipsFailed int                `json:"clips_failed"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	FailReason  string             `json:"fail_reason,omitempty"`
}
