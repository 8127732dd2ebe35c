package activities

import (
	"context"

	"highlightflow/internal/detect"
	"highlightflow/internal/embedding"
	"highlightflow/internal/models"
	"highlightflow/internal/providers"
	"highlightflow/internal/refine"
	"highlightflow/internal/storage"
)

type ProjectStore interface {
	Get(ctx context.Context, projectID string) (models.Project, error)
	BeginStage(ctx context.Context, projectID string, stage models.Stage) error
	CommitStage(ctx context.Context, projectID string, stage models.Stage, cost float64) error
	RecordStageCost(ctx context.Context, projectID string, stage models.Stage, cost float64) error
	SetDuration(ctx context.Context, projectID string, seconds float64) error
	Fail(ctx context.Context, projectID, kind, message string) error
	MarkReady(ctx context.Context, projectID string) error
	ReleaseRun(ctx context.Context, projectID, runID string) error
	TotalCost(ctx context.Context, projectID string) (float64, error)
}

type SegmentStore interface {
	UpsertRefined(ctx context.Context, projectID string, segs []models.Segment) error
	List(ctx context.Context, projectID string) ([]models.Segment, error)
	Get(ctx context.Context, segmentID string) (models.Segment, error)
	UpdateEmbedding(ctx context.Context, projectID string, segs []models.Segment) error
	SaveScores(ctx context.Context, projectID string, segs []models.Segment) error
	SetClip(ctx context.Context, segmentID, uri string) error
	MarkClipFailed(ctx context.Context, segmentID, message string) error
}

type ArtifactStore interface {
	Put(ctx context.Context, projectID string, stage models.Stage, v any) error
	Get(ctx context.Context, projectID string, stage models.Stage, out any) error
}

type CallLog interface {
	Insert(ctx context.Context, rec storage.ServiceCallRecord) error
}

type Analyzer interface {
	Analyze(ctx context.Context, path string) (models.MediaFeatures, error)
}

type Detector interface {
	Detect(ctx context.Context, in detect.Input) (detect.Result, error)
}

type Refiner interface {
	Refine(ctx context.Context, mediaRef, contentType string, candidates []providers.Candidate) (refine.Result, error)
}

type Enhancer interface {
	Enhance(ctx context.Context, contentType string, segments []models.Segment) (embedding.Result, error)
}

type Materializer interface {
	Materialize(ctx context.Context, p models.Project, s models.Segment) (string, error)
}
