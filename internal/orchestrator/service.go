package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"highlightflow/internal/config"
	"highlightflow/internal/models"
	"highlightflow/internal/objectstore"
	"highlightflow/internal/scoring"
	"highlightflow/internal/storage"
	"highlightflow/internal/workflows"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRunInProgress   = errors.New("a pipeline run is in progress")
	ErrInvalidFeedback = errors.New("invalid feedback")
	ErrInvalidProject  = errors.New("invalid project")
	ErrAlreadyStarted  = errors.New("workflow already started")
)

type ProjectStore interface {
	Create(ctx context.Context, p models.Project) error
	Get(ctx context.Context, projectID string) (models.Project, error)
	SetSource(ctx context.Context, projectID, key string) error
	AcquireRun(ctx context.Context, projectID, runID string) (bool, error)
	ForceAcquireRun(ctx context.Context, projectID, staleRunID, runID string) (bool, error)
	AcquireFeedback(ctx context.Context, projectID, holder string) (bool, error)
	ReleaseRun(ctx context.Context, projectID, runID string) error
}

type SegmentStore interface {
	List(ctx context.Context, projectID string) ([]models.Segment, error)
	SaveScores(ctx context.Context, projectID string, segs []models.Segment) error
}

// WorkflowClient is the slice of the Temporal client the service needs.
type WorkflowClient interface {
	Start(ctx context.Context, workflowID string, in workflows.PipelineInput) (string, error)
	Query(ctx context.Context, workflowID string) (workflows.PipelineStatus, error)
	Running(ctx context.Context, workflowID string) (bool, error)
}

type Service struct {
	cfg      config.Config
	tuning   config.Tuning
	projects ProjectStore
	segments SegmentStore
	wf       WorkflowClient
	store    objectstore.Store
	logger   zerolog.Logger
}

func New(cfg config.Config, tuning config.Tuning, projects ProjectStore, segments SegmentStore, wf WorkflowClient, store objectstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		tuning:   tuning,
		projects: projects,
		segments: segments,
		wf:       wf,
		store:    store,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

type CreateProjectInput struct {
	OwnerID     string               `json:"owner_id"`
	ContentType string               `json:"content_type"`
	Config      models.ProjectConfig `json:"config"`
}

func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (models.Project, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if in.OwnerID == "" {
		return models.Project{}, fmt.Errorf("owner_id is required: %w", ErrInvalidProject)
	}
	c := in.Config
	if c.TargetClipCount <= 0 {
		c.TargetClipCount = s.cfg.DefaultTargetClips
	}
	if c.MinClipSeconds <= 0 {
		c.MinClipSeconds = s.cfg.DefaultMinClipSecs
	}
	if c.MaxClipSeconds <= 0 {
		c.MaxClipSeconds = s.cfg.DefaultMaxClipSecs
	}
	if c.MaxClipSeconds < c.MinClipSeconds {
		return models.Project{}, fmt.Errorf("max clip seconds %.1f below min %.1f: %w", c.MaxClipSeconds, c.MinClipSeconds, ErrInvalidProject)
	}
	contentType := strings.ToLower(strings.TrimSpace(in.ContentType))
	if contentType == "" {
		contentType = "default"
	}
	p := models.Project{
		ProjectID:   uuid.NewString(),
		OwnerID:     in.OwnerID,
		ContentType: contentType,
		Config:      c,
		Stage:       models.StagePreprocessing,
		Status:      models.ProjectQueued,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return models.Project{}, err
	}
	return s.projects.Get(ctx, p.ProjectID)
}

// AttachSource uploads the source media of a project that has not started yet.
func (s *Service) AttachSource(ctx context.Context, projectID, filename string, r io.Reader) (string, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if p.RunID != "" {
		return "", ErrRunInProgress
	}
	if p.LastCommittedStage != "" || p.Status.Terminal() {
		return "", fmt.Errorf("project %s already processed: %w", projectID, ErrInvalidProject)
	}
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	key := path.Join("uploads", projectID, "source"+ext)
	if _, err := s.store.Upload(ctx, key, r); err != nil {
		return "", fmt.Errorf("upload source: %w", err)
	}
	if err := s.projects.SetSource(ctx, projectID, key); err != nil {
		return "", err
	}
	return key, nil
}

type StartResult struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

func rejected(reason string) StartResult {
	return StartResult{Accepted: false, Reason: reason}
}

// StartPipeline starts or resumes the pipeline for a project. A run marker
// left by a workflow that is no longer running is taken over.
func (s *Service) StartPipeline(ctx context.Context, projectID string) (StartResult, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return StartResult{}, err
	}
	if p.Status.Terminal() {
		return rejected("project is " + string(p.Status)), nil
	}
	if p.SourceKey == "" {
		return rejected("project has no source media"), nil
	}

	wfID := workflows.WorkflowID(projectID)
	runID := uuid.NewString()
	ok, err := s.projects.AcquireRun(ctx, projectID, runID)
	if err != nil {
		return StartResult{}, err
	}
	if !ok {
		ok, err = s.takeOver(ctx, projectID, wfID, runID)
		if err != nil {
			return StartResult{}, err
		}
		if !ok {
			return rejected("pipeline already running"), nil
		}
	}

	_, err = s.wf.Start(ctx, wfID, workflows.PipelineInput{
		ProjectID:          projectID,
		RunID:              runID,
		Timeouts:           s.tuning.Stages,
		MaxConcurrentClips: s.cfg.MaxConcurrentClips,
		MaxAttempts:        s.cfg.MaxAttempts,
	})
	if err != nil {
		if rerr := s.projects.ReleaseRun(context.WithoutCancel(ctx), projectID, runID); rerr != nil {
			s.logger.Warn().Err(rerr).Str("project_id", projectID).Msg("release run after failed start")
		}
		if errors.Is(err, ErrAlreadyStarted) {
			return rejected("pipeline already running"), nil
		}
		return StartResult{}, fmt.Errorf("start workflow: %w", err)
	}
	s.logger.Info().Str("project_id", projectID).Str("run_id", runID).Str("resume_after", string(p.LastCommittedStage)).Msg("pipeline started")
	return StartResult{Accepted: true, WorkflowID: wfID, RunID: runID}, nil
}

func (s *Service) takeOver(ctx context.Context, projectID, wfID, runID string) (bool, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	if p.RunID == "" || p.Status.Terminal() || feedbackMarker(p.RunID) {
		return false, nil
	}
	running, err := s.wf.Running(ctx, wfID)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}
	s.logger.Warn().Str("project_id", projectID).Str("stale_run_id", p.RunID).Msg("taking over stale run marker")
	return s.projects.ForceAcquireRun(ctx, projectID, p.RunID, runID)
}

type Status struct {
	ProjectID          string                    `json:"project_id"`
	Stage              models.Stage              `json:"stage"`
	Status             models.ProjectStatus      `json:"status"`
	LastCommittedStage models.Stage              `json:"last_committed_stage,omitempty"`
	Cost               float64                   `json:"cost"`
	ErrorKind          string                    `json:"error_kind,omitempty"`
	ErrorMessage       string                    `json:"error_message,omitempty"`
	Running            bool                      `json:"running"`
	Live               *workflows.PipelineStatus `json:"live,omitempty"`
	Segments           []models.Segment          `json:"segments"`
}

// GetStatus reports the stored state of a project with its ranked segments.
// While a run holds the project, live progress from the workflow is attached
// when the workflow answers.
func (s *Service) GetStatus(ctx context.Context, projectID string) (Status, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return Status{}, err
	}
	segs, err := s.segments.List(ctx, projectID)
	if err != nil {
		return Status{}, err
	}
	out := Status{
		ProjectID:          p.ProjectID,
		Stage:              p.Stage,
		Status:             p.Status,
		LastCommittedStage: p.LastCommittedStage,
		Cost:               p.Cost,
		ErrorKind:          p.ErrorKind,
		ErrorMessage:       p.ErrorMessage,
		Running:            p.RunID != "" && !feedbackMarker(p.RunID),
		Segments:           scoring.Rank(segs),
	}
	if out.Segments == nil {
		out.Segments = []models.Segment{}
	}
	if out.Running {
		live, err := s.wf.Query(ctx, workflows.WorkflowID(projectID))
		if err != nil {
			s.logger.Debug().Err(err).Str("project_id", projectID).Msg("live status unavailable")
		} else {
			out.Live = &live
		}
	}
	return out, nil
}

type FeedbackResult struct {
	Applied     int              `json:"applied"`
	Recommended int              `json:"recommended"`
	Rejected    int              `json:"rejected"`
	Pending     int              `json:"pending"`
	Segments    []models.Segment `json:"segments"`
}

// SubmitFeedback applies user verdicts and re-ranks the whole project.
// Submitting the same verdicts again changes nothing.
func (s *Service) SubmitFeedback(ctx context.Context, projectID string, items []models.FeedbackItem) (FeedbackResult, error) {
	if len(items) == 0 {
		return FeedbackResult{}, fmt.Errorf("no feedback items: %w", ErrInvalidFeedback)
	}
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return FeedbackResult{}, err
	}
	if p.RunID != "" {
		return FeedbackResult{}, ErrRunInProgress
	}
	holder := storage.FeedbackMarkerPrefix + uuid.NewString()
	ok, err := s.projects.AcquireFeedback(ctx, projectID, holder)
	if err != nil {
		return FeedbackResult{}, err
	}
	if !ok {
		return FeedbackResult{}, ErrRunInProgress
	}
	defer func() {
		if rerr := s.projects.ReleaseRun(context.WithoutCancel(ctx), projectID, holder); rerr != nil {
			s.logger.Warn().Err(rerr).Str("project_id", projectID).Msg("release feedback marker")
		}
	}()

	segs, err := s.segments.List(ctx, projectID)
	if err != nil {
		return FeedbackResult{}, err
	}
	target := p.Config.TargetClipCount
	if target <= 0 {
		target = s.cfg.DefaultTargetClips
	}
	res, applied, err := scoring.Rebalance(segs, items, scoring.ConfigFrom(s.tuning.Scoring, target))
	if err != nil {
		return FeedbackResult{}, fmt.Errorf("%w: %w", ErrInvalidFeedback, err)
	}
	if applied > 0 {
		if err := s.segments.SaveScores(ctx, projectID, res.Segments); err != nil {
			return FeedbackResult{}, err
		}
	}
	s.logger.Info().Str("project_id", projectID).Int("items", len(items)).Int("applied", applied).Int("recommended", res.Recommended).Msg("feedback rebalanced")
	return FeedbackResult{
		Applied:     applied,
		Recommended: res.Recommended,
		Rejected:    res.Rejected,
		Pending:     res.Pending,
		Segments:    res.Segments,
	}, nil
}

func feedbackMarker(runID string) bool {
	return strings.HasPrefix(runID, storage.FeedbackMarkerPrefix)
}
