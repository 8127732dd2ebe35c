package activities

import (
	"context"
	"fmt"
	"path/filepath"

	"highlightflow/internal/billing"
	"highlightflow/internal/config"
	"highlightflow/internal/detect"
	"highlightflow/internal/embedding"
	"highlightflow/internal/materialize"
	"highlightflow/internal/media"
	"highlightflow/internal/models"
	"highlightflow/internal/objectstore"
	"highlightflow/internal/preprocess"
	"highlightflow/internal/providers"
	"highlightflow/internal/refine"
	"highlightflow/internal/storage"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
)

type Activities struct {
	cfg       config.Config
	tuning    config.Tuning
	projects  ProjectStore
	segments  SegmentStore
	artifacts ArtifactStore
	calls     CallLog
	store     objectstore.Store
	gate      billing.Gate
	analyzer  Analyzer
	detector  Detector
	refiner   Refiner
	enhancer  Enhancer
	clips     Materializer
	logger    zerolog.Logger
}

// Deps are the collaborators of Activities. New wires the production ones.
type Deps struct {
	Projects  ProjectStore
	Segments  SegmentStore
	Artifacts ArtifactStore
	Calls     CallLog
	Store     objectstore.Store
	Gate      billing.Gate
	Analyzer  Analyzer
	Detector  Detector
	Refiner   Refiner
	Enhancer  Enhancer
	Clips     Materializer
}

func New(cfg config.Config, tuning config.Tuning, db *storage.DB, logger zerolog.Logger) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	if pm.AnalysisCount() == 0 || pm.EmbedCount() == 0 {
		return nil, fmt.Errorf("at least one analysis and one embedding provider are required")
	}
	tool, err := media.New(media.NewCommandRunner(), logger, media.Options{Timeout: cfg.MediaTimeout})
	if err != nil {
		return nil, err
	}
	store, err := objectstore.NewFS(cfg.ObjectStoreRoot, cfg.ObjectStoreBaseURI)
	if err != nil {
		return nil, err
	}

	var gate billing.Gate = billing.Unlimited{}
	if cfg.BillingEnabled {
		gate = billing.NewLedgerGate(db)
	}

	ordered := pm.AnalysisOrder()
	refiners := make([]providers.AnalysisProvider, 0, len(ordered))
	for _, p := range ordered {
		refiners = append(refiners, p.Provider)
	}
	embedder := pm.FirstEmbed()
	cache := embedding.NewPrototypeCache(embedder.Provider, storage.NewPrototypeRepo(db), embedder.Ref.Raw, tuning.Embedding.CacheVersion, cfg.EmbedDim, logger)

	return NewWithDeps(cfg, tuning, Deps{
		Projects:  storage.NewProjectRepo(db),
		Segments:  storage.NewSegmentRepo(db),
		Artifacts: storage.NewArtifactRepo(db),
		Calls:     storage.NewServiceCallRepo(db),
		Store:     store,
		Gate:      gate,
		Analyzer: preprocess.NewAnalyzer(tool, preprocess.Options{
			WorkDir:            cfg.WorkDir,
			SilenceThresholdDb: tuning.Preprocess.SilenceThresholdDb,
			SilenceMinSecs:     tuning.Preprocess.SilenceMinSecs,
			SceneSensitivity:   tuning.Preprocess.SceneSensitivity,
			EnergyWindowSecs:   tuning.Preprocess.EnergyWindowSecs,
			WaveformPoints:     tuning.Preprocess.WaveformPoints,
		}, logger),
		Detector: detect.New(pm.FirstAnalysis().Provider, detect.Options{
			ChunkSecs:   tuning.Detect.ChunkSecs,
			OverlapSecs: tuning.Detect.OverlapSecs,
			Concurrency: tuning.Detect.Concurrency,
		}, logger),
		Refiner: refine.New(refiners, refine.Options{
			MatchTolerance:   tuning.Refine.MatchToleranceSecs,
			UnmatchedPenalty: tuning.Refine.UnmatchedPenalty,
			Policy: refine.Policy{
				EarlyStopThreshold: tuning.Refine.EarlyStopThreshold,
				Exhaustive:         tuning.Refine.Exhaustive,
			},
		}, logger),
		Enhancer: embedding.NewEnhancer(embedder.Provider, cache, embedding.Options{
			TopK:        tuning.Embedding.TopK,
			Concurrency: tuning.Embedding.Concurrency,
			PriorWeight: tuning.Embedding.PriorWeight,
			SimWeight:   tuning.Embedding.SimWeight,
			TopSimilars: tuning.Embedding.TopSimilars,
			Dimension:   cfg.EmbedDim,
			CostPerCall: cfg.EmbedCostPerCall,
			Extra:       tuning.Prototypes,
		}, logger),
		Clips: materialize.New(tool, store, cfg.WorkDir, logger),
	}, logger), nil
}

func NewWithDeps(cfg config.Config, tuning config.Tuning, d Deps, logger zerolog.Logger) *Activities {
	gate := d.Gate
	if gate == nil {
		gate = billing.Unlimited{}
	}
	return &Activities{
		cfg:       cfg,
		tuning:    tuning,
		projects:  d.Projects,
		segments:  d.Segments,
		artifacts: d.Artifacts,
		calls:     d.Calls,
		store:     d.Store,
		gate:      gate,
		analyzer:  d.Analyzer,
		detector:  d.Detector,
		refiner:   d.Refiner,
		enhancer:  d.Enhancer,
		clips:     d.Clips,
		logger:    logger.With().Str("component", "activities").Logger(),
	}
}

func (a *Activities) LoadProjectActivity(ctx context.Context, in ProjectInput) (LoadProjectOutput, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return LoadProjectOutput{}, toApplicationError(err)
	}
	return LoadProjectOutput{Project: p}, nil
}

// ReserveBudgetActivity checks the owner's budget for the estimated cost of a
// paid stage on top of what the project has already spent.
func (a *Activities) ReserveBudgetActivity(ctx context.Context, in ReserveBudgetInput) (ReserveBudgetOutput, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return ReserveBudgetOutput{}, toApplicationError(err)
	}
	estimate, err := a.estimate(ctx, p, in.Stage)
	if err != nil {
		return ReserveBudgetOutput{}, toApplicationError(err)
	}
	if estimate <= 0 {
		return ReserveBudgetOutput{}, nil
	}
	spent, err := a.projects.TotalCost(ctx, p.ProjectID)
	if err != nil {
		return ReserveBudgetOutput{}, toApplicationError(err)
	}
	ok, err := a.gate.Reserve(ctx, p.OwnerID, p.ProjectID, spent+estimate)
	if err != nil {
		return ReserveBudgetOutput{}, toApplicationError(err)
	}
	if !ok {
		return ReserveBudgetOutput{}, toApplicationError(fmt.Errorf("%s needs %.4f on top of %.4f: %w", in.Stage, estimate, spent, util.ErrBudgetExceeded))
	}
	return ReserveBudgetOutput{Estimate: estimate}, nil
}

func (a *Activities) estimate(ctx context.Context, p models.Project, stage models.Stage) (float64, error) {
	switch stage {
	case models.StageCoarseDetect:
		return a.cfg.AnalyzeCostPerMin * p.DurationSeconds / 60, nil
	case models.StageRefinement:
		var coarse coarseArtifact
		if err := a.artifacts.Get(ctx, p.ProjectID, models.StageCoarseDetect, &coarse); err != nil {
			return 0, fmt.Errorf("load coarse candidates: %w", err)
		}
		return a.cfg.RefineCostPerSeg * float64(len(coarse.Candidates)), nil
	case models.StageEmbedding:
		if a.tuning.Embedding.TopK == 0 {
			return 0, nil
		}
		return a.cfg.EmbedCostPerCall * float64(a.tuning.Embedding.TopK+1), nil
	default:
		return 0, nil
	}
}

func (a *Activities) BeginStageActivity(ctx context.Context, in StageInput) error {
	return toApplicationError(a.projects.BeginStage(ctx, in.ProjectID, in.Stage))
}

func (a *Activities) CommitStageActivity(ctx context.Context, in CommitStageInput) error {
	if err := a.projects.CommitStage(ctx, in.ProjectID, in.Stage, in.Cost); err != nil {
		return toApplicationError(err)
	}
	a.logger.Info().Str("project_id", in.ProjectID).Str("stage", string(in.Stage)).Float64("cost", in.Cost).Msg("stage committed")
	return nil
}

func (a *Activities) FailProjectActivity(ctx context.Context, in FailProjectInput) error {
	msg := util.DisplaySnippet(util.SanitizeText(in.Message), 1000)
	if err := a.projects.Fail(ctx, in.ProjectID, in.Kind, msg); err != nil {
		return toApplicationError(err)
	}
	a.logger.Warn().Str("project_id", in.ProjectID).Str("stage", string(in.Stage)).Str("kind", in.Kind).Str("error", msg).Msg("project failed")
	return nil
}

func (a *Activities) CompleteProjectActivity(ctx context.Context, in ProjectInput) error {
	return toApplicationError(a.projects.MarkReady(ctx, in.ProjectID))
}

func (a *Activities) ReleaseRunActivity(ctx context.Context, in ReleaseRunInput) error {
	return toApplicationError(a.projects.ReleaseRun(ctx, in.ProjectID, in.RunID))
}

// RecordCostActivity reports the project's accumulated cost to billing. It
// runs after every run, successful or not.
func (a *Activities) RecordCostActivity(ctx context.Context, in ProjectInput) (RecordCostOutput, error) {
	p, err := a.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return RecordCostOutput{}, toApplicationError(err)
	}
	total, err := a.projects.TotalCost(ctx, in.ProjectID)
	if err != nil {
		return RecordCostOutput{}, toApplicationError(err)
	}
	if err := a.gate.RecordActual(ctx, p.OwnerID, p.ProjectID, total); err != nil {
		return RecordCostOutput{}, toApplicationError(err)
	}
	return RecordCostOutput{Cost: total}, nil
}

func (a *Activities) WriteRunManifestActivity(ctx context.Context, in WriteRunManifestInput) (WriteRunManifestOutput, error) {
	if err := ctx.Err(); err != nil {
		return WriteRunManifestOutput{}, err
	}
	path := filepath.Join(a.cfg.DataOutRoot, "projects", in.ProjectID, "runs", in.RunID, "manifest.json")
	if err := util.WriteJSONAtomic(path, in.Manifest); err != nil {
		return WriteRunManifestOutput{}, err
	}
	return WriteRunManifestOutput{Path: path}, nil
}

// audit writes service call records. Audit failures never fail a stage.
func (a *Activities) audit(ctx context.Context, projectID string, stage models.Stage, calls []providers.CallRecord) {
	if a.calls == nil {
		return
	}
	for _, c := range calls {
		rec := storage.ServiceCallRecord{
			ProjectID:    projectID,
			Stage:        string(stage),
			Operation:    c.Operation,
			ProviderName: c.Provider.Name,
			Model:        c.Provider.Model,
			Status:       c.Status(),
			ErrorKind:    util.KindOf(c.Err),
			Cost:         c.Cost,
			Duration:     c.Duration,
		}
		if err := a.calls.Insert(ctx, rec); err != nil {
			a.logger.Warn().Err(err).Str("project_id", projectID).Str("stage", string(stage)).Msg("service call audit failed")
		}
	}
}

// projectConfig fills unset per-project clip options from the deployment defaults.
func (a *Activities) projectConfig(p models.Project) models.ProjectConfig {
	c := p.Config
	if c.TargetClipCount <= 0 {
		c.TargetClipCount = a.cfg.DefaultTargetClips
	}
	if c.MinClipSeconds <= 0 {
		c.MinClipSeconds = a.cfg.DefaultMinClipSecs
	}
	if c.MaxClipSeconds <= 0 {
		c.MaxClipSeconds = a.cfg.DefaultMaxClipSecs
	}
	return c
}
