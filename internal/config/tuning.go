package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the knobs that shape scoring and the paid stages. All fields
// are optional in the file; zero values are replaced by defaults.
type Tuning struct {
	Scoring    ScoringTuning       `yaml:"scoring"`
	Embedding  EmbeddingTuning     `yaml:"embedding"`
	Refine     RefineTuning        `yaml:"refine"`
	Detect     DetectTuning        `yaml:"detect"`
	Preprocess PreprocessTuning    `yaml:"preprocess"`
	Stages     StageTimeouts       `yaml:"stage_timeouts"`
	Prototypes map[string][]string `yaml:"prototypes"`
}

type ScoringTuning struct {
	AcceptThreshold       float64 `yaml:"accept_threshold"`
	PeakBonus             float64 `yaml:"peak_bonus"`
	TransitionBonus       float64 `yaml:"transition_bonus"`
	MaxBonus              float64 `yaml:"max_bonus"`
	SilencePenalty        float64 `yaml:"silence_penalty"`
	SilenceRatioThreshold float64 `yaml:"silence_ratio_threshold"`
	TransitionWindowSecs  float64 `yaml:"transition_window_seconds"`
	FeedbackDelta         float64 `yaml:"feedback_delta"`
}

type EmbeddingTuning struct {
	TopK         int     `yaml:"top_k"`
	Concurrency  int     `yaml:"concurrency"`
	PriorWeight  float64 `yaml:"prior_weight"`
	SimWeight    float64 `yaml:"similarity_weight"`
	TopSimilars  int     `yaml:"top_similarities"`
	CacheVersion string  `yaml:"cache_version"`
}

type RefineTuning struct {
	MatchToleranceSecs float64 `yaml:"match_tolerance_seconds"`
	UnmatchedPenalty   float64 `yaml:"unmatched_confidence_penalty"`
	EarlyStopThreshold float64 `yaml:"early_stop_threshold"`
	Exhaustive         bool    `yaml:"exhaustive"`
}

type DetectTuning struct {
	ChunkSecs   float64 `yaml:"chunk_seconds"`
	OverlapSecs float64 `yaml:"overlap_seconds"`
	Concurrency int     `yaml:"concurrency"`
	Density     string  `yaml:"density"`
}

type PreprocessTuning struct {
	SilenceThresholdDb float64 `yaml:"silence_threshold_db"`
	SilenceMinSecs     float64 `yaml:"silence_min_seconds"`
	SceneSensitivity   float64 `yaml:"scene_sensitivity"`
	EnergyWindowSecs   float64 `yaml:"energy_window_seconds"`
	WaveformPoints     int     `yaml:"waveform_points"`
}

// StageTimeouts are per-stage wall-clock budgets in seconds.
type StageTimeouts struct {
	Preprocessing int `yaml:"preprocessing"`
	CoarseDetect  int `yaml:"coarse_detection"`
	Refinement    int `yaml:"refinement"`
	Embedding     int `yaml:"embedding_enhancement"`
	Scoring       int `yaml:"scoring"`
	ClipPerItem   int `yaml:"clip_generation"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Scoring: ScoringTuning{
			AcceptThreshold:       50,
			PeakBonus:             3,
			TransitionBonus:       2,
			MaxBonus:              5,
			SilencePenalty:        10,
			SilenceRatioThreshold: 0.5,
			TransitionWindowSecs:  1.0,
			FeedbackDelta:         15,
		},
		Embedding: EmbeddingTuning{
			TopK:         8,
			Concurrency:  4,
			PriorWeight:  0.6,
			SimWeight:    0.4,
			TopSimilars:  3,
			CacheVersion: "v1",
		},
		Refine: RefineTuning{
			MatchToleranceSecs: 2.0,
			UnmatchedPenalty:   0.5,
			EarlyStopThreshold: 0.8,
			Exhaustive:         false,
		},
		Detect: DetectTuning{
			ChunkSecs:   900,
			OverlapSecs: 15,
			Concurrency: 2,
			Density:     "normal",
		},
		Preprocess: PreprocessTuning{
			SilenceThresholdDb: -30,
			SilenceMinSecs:     0.5,
			SceneSensitivity:   0.4,
			EnergyWindowSecs:   0.5,
			WaveformPoints:     2000,
		},
		Stages: StageTimeouts{
			Preprocessing: 900,
			CoarseDetect:  900,
			Refinement:    600,
			Embedding:     300,
			Scoring:       60,
			ClipPerItem:   300,
		},
		Prototypes: map[string][]string{},
	}
}

// LoadTuning reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	t.fillDefaults()
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func (t *Tuning) fillDefaults() {
	d := DefaultTuning()
	if t.Scoring.AcceptThreshold <= 0 {
		t.Scoring.AcceptThreshold = d.Scoring.AcceptThreshold
	}
	if t.Scoring.MaxBonus <= 0 {
		t.Scoring.MaxBonus = d.Scoring.MaxBonus
	}
	if t.Scoring.SilenceRatioThreshold <= 0 {
		t.Scoring.SilenceRatioThreshold = d.Scoring.SilenceRatioThreshold
	}
	if t.Scoring.TransitionWindowSecs <= 0 {
		t.Scoring.TransitionWindowSecs = d.Scoring.TransitionWindowSecs
	}
	if t.Scoring.FeedbackDelta <= 0 {
		t.Scoring.FeedbackDelta = d.Scoring.FeedbackDelta
	}
	if t.Embedding.Concurrency <= 0 {
		t.Embedding.Concurrency = d.Embedding.Concurrency
	}
	if t.Embedding.PriorWeight <= 0 && t.Embedding.SimWeight <= 0 {
		t.Embedding.PriorWeight = d.Embedding.PriorWeight
		t.Embedding.SimWeight = d.Embedding.SimWeight
	}
	if t.Embedding.TopSimilars <= 0 {
		t.Embedding.TopSimilars = d.Embedding.TopSimilars
	}
	if t.Embedding.CacheVersion == "" {
		t.Embedding.CacheVersion = d.Embedding.CacheVersion
	}
	if t.Refine.MatchToleranceSecs <= 0 {
		t.Refine.MatchToleranceSecs = d.Refine.MatchToleranceSecs
	}
	if t.Refine.UnmatchedPenalty <= 0 {
		t.Refine.UnmatchedPenalty = d.Refine.UnmatchedPenalty
	}
	if t.Detect.ChunkSecs <= 0 {
		t.Detect.ChunkSecs = d.Detect.ChunkSecs
	}
	if t.Detect.Concurrency <= 0 {
		t.Detect.Concurrency = d.Detect.Concurrency
	}
	if t.Detect.Density == "" {
		t.Detect.Density = d.Detect.Density
	}
	if t.Preprocess.SilenceThresholdDb == 0 {
		t.Preprocess.SilenceThresholdDb = d.Preprocess.SilenceThresholdDb
	}
	if t.Preprocess.SilenceMinSecs <= 0 {
		t.Preprocess.SilenceMinSecs = d.Preprocess.SilenceMinSecs
	}
	if t.Preprocess.SceneSensitivity <= 0 {
		t.Preprocess.SceneSensitivity = d.Preprocess.SceneSensitivity
	}
	if t.Preprocess.EnergyWindowSecs <= 0 {
		t.Preprocess.EnergyWindowSecs = d.Preprocess.EnergyWindowSecs
	}
	if t.Preprocess.WaveformPoints <= 0 {
		t.Preprocess.WaveformPoints = d.Preprocess.WaveformPoints
	}
	if t.Stages.Preprocessing <= 0 {
		t.Stages.Preprocessing = d.Stages.Preprocessing
	}
	if t.Stages.CoarseDetect <= 0 {
		t.Stages.CoarseDetect = d.Stages.CoarseDetect
	}
	if t.Stages.Refinement <= 0 {
		t.Stages.Refinement = d.Stages.Refinement
	}
	if t.Stages.Embedding <= 0 {
		t.Stages.Embedding = d.Stages.Embedding
	}
	if t.Stages.Scoring <= 0 {
		t.Stages.Scoring = d.Stages.Scoring
	}
	if t.Stages.ClipPerItem <= 0 {
		t.Stages.ClipPerItem = d.Stages.ClipPerItem
	}
	if t.Prototypes == nil {
		t.Prototypes = map[string][]string{}
	}
}

func (t Tuning) Validate() error {
	if t.Scoring.AcceptThreshold > 100 {
		return fmt.Errorf("scoring.accept_threshold must be within 0..100, got %v", t.Scoring.AcceptThreshold)
	}
	if t.Scoring.MaxBonus > 100 || t.Scoring.SilencePenalty > 100 || t.Scoring.FeedbackDelta > 100 {
		return fmt.Errorf("scoring adjustments must not exceed 100")
	}
	if t.Embedding.TopK < 0 {
		return fmt.Errorf("embedding.top_k must be >= 0, got %d", t.Embedding.TopK)
	}
	if t.Refine.UnmatchedPenalty > 1 {
		return fmt.Errorf("refine.unmatched_confidence_penalty must be within 0..1, got %v", t.Refine.UnmatchedPenalty)
	}
	if t.Refine.EarlyStopThreshold < 0 || t.Refine.EarlyStopThreshold > 1 {
		return fmt.Errorf("refine.early_stop_threshold must be within 0..1, got %v", t.Refine.EarlyStopThreshold)
	}
	if t.Detect.OverlapSecs >= t.Detect.ChunkSecs {
		return fmt.Errorf("detect.overlap_seconds must be smaller than detect.chunk_seconds")
	}
	return nil
}
