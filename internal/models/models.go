package models

import (
	"fmt"
	"time"
)

type Stage string

const (
	StagePreprocessing  Stage = "preprocessing"
	StageCoarseDetect   Stage = "coarse-detection"
	StageRefinement     Stage = "refinement"
	StageEmbedding      Stage = "embedding-enhancement"
	StageScoring        Stage = "scoring"
	StageClipGeneration Stage = "clip-generation"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Stages lists the forward pipeline order, ending with the terminal done stage.
var Stages = []Stage{
	StagePreprocessing,
	StageCoarseDetect,
	StageRefinement,
	StageEmbedding,
	StageScoring,
	StageClipGeneration,
	StageDone,
}

// Index returns the position in the forward order, -1 for failed or unknown stages.
func (s Stage) Index() int {
	for i, x := range Stages {
		if x == s {
			return i
		}
	}
	return -1
}

// Next returns the stage after s. Terminal stages return themselves.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return s
	}
	return Stages[i+1]
}

// After reports whether s comes strictly later than other in the forward order.
func (s Stage) After(other Stage) bool {
	return s.Index() > other.Index()
}

func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

type ProjectStatus string

const (
	ProjectQueued          ProjectStatus = "queued"
	ProjectAnalyzing       ProjectStatus = "analyzing"
	ProjectScoring         ProjectStatus = "scoring"
	ProjectGeneratingClips ProjectStatus = "generating-clips"
	ProjectReady           ProjectStatus = "ready"
	ProjectFailed          ProjectStatus = "failed"
)

func (s ProjectStatus) Terminal() bool {
	return s == ProjectReady || s == ProjectFailed
}

// StatusFor is the overall project status while stage is running.
func StatusFor(stage Stage) ProjectStatus {
	switch stage {
	case StagePreprocessing, StageCoarseDetect, StageRefinement, StageEmbedding:
		return ProjectAnalyzing
	case StageScoring:
		return ProjectScoring
	case StageClipGeneration:
		return ProjectGeneratingClips
	case StageDone:
		return ProjectReady
	case StageFailed:
		return ProjectFailed
	default:
		return ProjectQueued
	}
}

type SegmentStatus string

const (
	SegmentPending     SegmentStatus = "pending"
	SegmentRecommended SegmentStatus = "recommended"
	SegmentRejected    SegmentStatus = "rejected"
	SegmentFailed      SegmentStatus = "failed"
)

type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

func (v Verdict) Valid() bool {
	return v == VerdictAccept || v == VerdictReject
}

type ProjectConfig struct {
	TargetClipCount int     `json:"target_clip_count"`
	MinClipSeconds  float64 `json:"min_clip_seconds"`
	MaxClipSeconds  float64 `json:"max_clip_seconds"`
}

type Project struct {
	ProjectID          string        `json:"project_id"`
	OwnerID            string        `json:"owner_id"`
	SourceKey          string        `json:"source_key"`
	ContentType        string        `json:"content_type"`
	Config             ProjectConfig `json:"config"`
	Stage              Stage         `json:"stage"`
	LastCommittedStage Stage         `json:"last_committed_stage,omitempty"`
	Status             ProjectStatus `json:"status"`
	Cost               float64       `json:"cost"`
	DurationSeconds    float64       `json:"duration_seconds,omitempty"`
	ErrorKind          string        `json:"error_kind,omitempty"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	RunID              string        `json:"run_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// SegmentFeatures are preprocessing signals local to one segment interval.
type SegmentFeatures struct {
	EnergyAvg      float64 `json:"energy_avg"`
	SilenceRatio   float64 `json:"silence_ratio"`
	SceneCutCount  int     `json:"scene_cut_count"`
	OverlapsPeak   bool    `json:"overlaps_peak"`
	AfterSilence   bool    `json:"after_silence"`
	SilenceSeconds float64 `json:"silence_seconds"`
}

type Segment struct {
	SegmentID          string          `json:"segment_id"`
	ProjectID          string          `json:"project_id"`
	StartTime          float64         `json:"start_time"`
	EndTime            float64         `json:"end_time"`
	CoarseScore        *float64        `json:"coarse_score"`
	RefinedScore       *float64        `json:"refined_score"`
	EmbeddingScore     *float64        `json:"embedding_score"`
	FinalScore         *float64        `json:"final_score"`
	SignalAdjustment   float64         `json:"signal_adjustment"`
	FeedbackVerdict    Verdict         `json:"feedback_verdict,omitempty"`
	FeedbackAdjustment float64         `json:"feedback_adjustment"`
	Confidence         float64         `json:"confidence"`
	HighlightType      string          `json:"highlight_type,omitempty"`
	Reasoning          string          `json:"reasoning,omitempty"`
	ContentTags        []string        `json:"content_tags"`
	Features           SegmentFeatures `json:"features"`
	Status             SegmentStatus   `json:"status"`
	ClipURI            string          `json:"clip_uri,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

func (s Segment) Validate() error {
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("segment %s: end %.3f must be after start %.3f", s.SegmentID, s.EndTime, s.StartTime)
	}
	if s.StartTime < 0 {
		return fmt.Errorf("segment %s: negative start %.3f", s.SegmentID, s.StartTime)
	}
	return nil
}

// CurrentScore is the most advanced score computed so far, or nil.
func (s Segment) CurrentScore() *float64 {
	switch {
	case s.FinalScore != nil:
		return s.FinalScore
	case s.EmbeddingScore != nil:
		return s.EmbeddingScore
	case s.RefinedScore != nil:
		return s.RefinedScore
	default:
		return s.CoarseScore
	}
}

type FeedbackItem struct {
	SegmentID string  `json:"segment_id"`
	Verdict   Verdict `json:"verdict"`
	Note      string  `json:"note,omitempty"`
}

type StageCost struct {
	ProjectID string  `json:"project_id"`
	Stage     Stage   `json:"stage"`
	Cost      float64 `json:"cost"`
}

func Float(v float64) *float64 {
	return &v
}

type EnergyPeak struct {
	Timestamp float64 `json:"timestamp"`
	Energy    float64 `json:"energy"`
}

type SilenceSpan struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

type SceneCut struct {
	Timestamp float64 `json:"timestamp"`
}

// MediaFeatures is the output of preprocessing for one source video.
type MediaFeatures struct {
	DurationSeconds float64       `json:"duration_seconds"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	SampleRate      int           `json:"sample_rate"`
	AverageEnergy   float64       `json:"average_energy"`
	EnergyWindow    float64       `json:"energy_window_seconds"`
	Envelope        []float64     `json:"envelope"`
	Peaks           []EnergyPeak  `json:"peaks"`
	Silences        []SilenceSpan `json:"silences"`
	SceneCuts       []SceneCut    `json:"scene_cuts"`
	Waveform        []float64     `json:"waveform"`
	Degraded        []string      `json:"degraded,omitempty"`
}
