package activities

import (
	"context"
	"errors"
	"fmt"
	"os"

	"highlightflow/internal/detect"
	"highlightflow/internal/models"
	"highlightflow/internal/objectstore"
	"highlightflow/internal/preprocess"
	"highlightflow/internal/providers"
	"highlightflow/internal/scoring"
	"highlightflow/internal/util"
)

// PreprocessActivity downloads the source, extracts its signal features and
// stores them as the preprocessing artifact.
func (a *Activities) PreprocessActivity(ctx context.Context, in ProjectInput) (StageResult, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}
	if p.SourceKey == "" {
		return StageResult{}, toApplicationError(fmt.Errorf("project %s has no source media: %w", p.ProjectID, util.ErrInvalidMedia))
	}
	if err := util.EnsureDir(a.cfg.WorkDir); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	dir, err := os.MkdirTemp(a.cfg.WorkDir, "preprocess-*")
	if err != nil {
		return StageResult{}, toApplicationError(fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	path, err := objectstore.FetchToFile(ctx, a.store, p.SourceKey, dir)
	if errors.Is(err, objectstore.ErrNotFound) {
		return StageResult{}, toApplicationError(fmt.Errorf("source %s: %w", p.SourceKey, util.ErrInvalidMedia))
	}
	if err != nil {
		return StageResult{}, toApplicationError(fmt.Errorf("fetch source: %w", err))
	}
	features, err := a.analyzer.Analyze(ctx, path)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}
	if err := a.artifacts.Put(ctx, p.ProjectID, models.StagePreprocessing, features); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	if err := a.projects.SetDuration(ctx, p.ProjectID, features.DurationSeconds); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	return StageResult{Items: len(features.Peaks), Degraded: features.Degraded}, nil
}

func (a *Activities) CoarseDetectActivity(ctx context.Context, in ProjectInput) (StageResult, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}
	var features models.MediaFeatures
	if err := a.artifacts.Get(ctx, p.ProjectID, models.StagePreprocessing, &features); err != nil {
		return StageResult{}, toApplicationError(fmt.Errorf("load features: %w", err))
	}

	res, err := a.detector.Detect(ctx, detect.Input{
		MediaRef:    p.SourceKey,
		ContentType: p.ContentType,
		Density:     a.tuning.Detect.Density,
		Features:    features,
		Config:      a.projectConfig(p),
	})
	a.audit(ctx, p.ProjectID, models.StageCoarseDetect, res.Calls)
	if err != nil {
		a.recordPartialCost(ctx, p.ProjectID, models.StageCoarseDetect, res.Cost)
		return StageResult{}, toApplicationError(err)
	}

	art := coarseArtifact{ZeroScores: res.ZeroScores, Candidates: make([]candidate, 0, len(res.Candidates))}
	for _, c := range res.Candidates {
		art.Candidates = append(art.Candidates, candidate{Start: c.Start, End: c.End, Score: c.Score})
	}
	if err := a.artifacts.Put(ctx, p.ProjectID, models.StageCoarseDetect, art); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	out := StageResult{Cost: res.Cost, Items: len(art.Candidates)}
	if res.ZeroScores > 0 {
		out.Degraded = append(out.Degraded, fmt.Sprintf("zero_scores:%d", res.ZeroScores))
	}
	return out, nil
}

// RefineActivity re-evaluates the coarse candidates and persists them as
// segments, attaching the preprocessing features of each interval.
func (a *Activities) RefineActivity(ctx context.Context, in ProjectInput) (StageResult, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}
	var features models.MediaFeatures
	if err := a.artifacts.Get(ctx, p.ProjectID, models.StagePreprocessing, &features); err != nil {
		return StageResult{}, toApplicationError(fmt.Errorf("load features: %w", err))
	}
	var coarse coarseArtifact
	if err := a.artifacts.Get(ctx, p.ProjectID, models.StageCoarseDetect, &coarse); err != nil {
		return StageResult{}, toApplicationError(fmt.Errorf("load coarse candidates: %w", err))
	}
	if len(coarse.Candidates) == 0 {
		return StageResult{}, toApplicationError(util.ErrNoCandidates)
	}
	candidates := make([]providers.Candidate, 0, len(coarse.Candidates))
	for _, c := range coarse.Candidates {
		candidates = append(candidates, providers.Candidate{Start: c.Start, End: c.End, Score: c.Score})
	}

	res, err := a.refiner.Refine(ctx, p.SourceKey, p.ContentType, candidates)
	a.audit(ctx, p.ProjectID, models.StageRefinement, res.Calls)
	if err != nil {
		a.recordPartialCost(ctx, p.ProjectID, models.StageRefinement, res.Cost)
		return StageResult{}, toApplicationError(err)
	}

	segs := make([]models.Segment, 0, len(res.Segments))
	for _, r := range res.Segments {
		segs = append(segs, models.Segment{
			ProjectID:     p.ProjectID,
			StartTime:     r.Start,
			EndTime:       r.End,
			CoarseScore:   models.Float(r.CoarseScore),
			RefinedScore:  models.Float(r.Score),
			Confidence:    r.Confidence,
			HighlightType: r.Classification,
			Reasoning:     r.Reasoning,
			ContentTags:   r.Tags,
			Features:      preprocess.SegmentFeatures(features, r.Start, r.End, a.tuning.Scoring.TransitionWindowSecs),
			Status:        models.SegmentPending,
		})
	}
	if err := a.segments.UpsertRefined(ctx, p.ProjectID, segs); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	out := StageResult{Cost: res.Cost, Items: len(segs)}
	if res.Unmatched > 0 {
		out.Degraded = append(out.Degraded, fmt.Sprintf("unmatched:%d", res.Unmatched))
	}
	return out, nil
}

func (a *Activities) EmbedActivity(ctx context.Context, in ProjectInput) (StageResult, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}
	segs, err := a.segments.List(ctx, p.ProjectID)
	if err != nil {
		return StageResult{}, toApplicationError(err)
	}

	res, err := a.enhancer.Enhance(ctx, p.ContentType, segs)
	a.audit(ctx, p.ProjectID, models.StageEmbedding, res.Calls)
	if err != nil {
		a.recordPartialCost(ctx, p.ProjectID, models.StageEmbedding, res.Cost)
		return StageResult{}, toApplicationError(err)
	}
	if err := a.segments.UpdateEmbedding(ctx, p.ProjectID, res.Segments); err != nil {
		return StageResult{}, toApplicationError(err)
	}
	out := StageResult{Cost: res.Cost, Items: res.Enhanced}
	if res.Degraded != "" {
		out.Degraded = append(out.Degraded, "prototypes:"+res.Degraded)
	}
	for _, id := range res.Failed {
		out.Degraded = append(out.Degraded, "segment:"+id)
	}
	return out, nil
}

func (a *Activities) ScoreActivity(ctx context.Context, in ProjectInput) (ScoreOutput, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return ScoreOutput{}, toApplicationError(err)
	}
	segs, err := a.segments.List(ctx, p.ProjectID)
	if err != nil {
		return ScoreOutput{}, toApplicationError(err)
	}
	res := scoring.Apply(segs, scoring.ConfigFrom(a.tuning.Scoring, a.projectConfig(p).TargetClipCount))
	if err := a.segments.SaveScores(ctx, p.ProjectID, res.Segments); err != nil {
		return ScoreOutput{}, toApplicationError(err)
	}
	return ScoreOutput{Recommended: res.Recommended, Rejected: res.Rejected, Pending: res.Pending, Failed: res.Failed}, nil
}

func (a *Activities) recordPartialCost(ctx context.Context, projectID string, stage models.Stage, cost float64) {
	if cost <= 0 {
		return
	}
	if err := a.projects.RecordStageCost(ctx, projectID, stage, cost); err != nil {
		a.logger.Warn().Err(err).Str("project_id", projectID).Str("stage", string(stage)).Msg("record partial stage cost failed")
	}
}
