package storage

import (
	"context"
	"errors"
	"fmt"

	"highlightflow/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type ProjectRepo struct {
	db *DB
}

func NewProjectRepo(db *DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) Create(ctx context.Context, p models.Project) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO projects (project_id, owner_id, source_key, content_type, target_clip_count, min_clip_seconds, max_clip_seconds, stage, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ProjectID, p.OwnerID, p.SourceKey, p.ContentType, p.Config.TargetClipCount, p.Config.MinClipSeconds, p.Config.MaxClipSeconds,
		models.StagePreprocessing, models.ProjectQueued,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

const projectColumns = `
p.project_id::text, p.owner_id, p.source_key, p.content_type, p.target_clip_count, p.min_clip_seconds, p.max_clip_seconds,
p.stage, COALESCE(p.last_committed_stage,''), p.status, COALESCE(p.duration_seconds,0),
COALESCE(p.error_kind,''), COALESCE(p.error_message,''), COALESCE(p.run_id,''),
COALESCE((SELECT SUM(c.cost) FROM stage_costs c WHERE c.project_id = p.project_id), 0),
p.created_at, p.updated_at`

func (r *ProjectRepo) Get(ctx context.Context, projectID string) (models.Project, error) {
	var p models.Project
	err := r.db.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.project_id=$1::uuid`, projectID).Scan(
		&p.ProjectID, &p.OwnerID, &p.SourceKey, &p.ContentType, &p.Config.TargetClipCount, &p.Config.MinClipSeconds, &p.Config.MaxClipSeconds,
		&p.Stage, &p.LastCommittedStage, &p.Status, &p.DurationSeconds,
		&p.ErrorKind, &p.ErrorMessage, &p.RunID, &p.Cost, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Project{}, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepo) SetSource(ctx context.Context, projectID, key string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE projects SET source_key=$2, updated_at=NOW() WHERE project_id=$1::uuid AND run_id IS NULL`, projectID, key)
	if err != nil {
		return fmt.Errorf("set project source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s missing or running: %w", projectID, ErrNotFound)
	}
	return nil
}

// FeedbackMarkerPrefix marks a run marker held by a feedback rebalance
// rather than a pipeline workflow.
const FeedbackMarkerPrefix = "feedback-"

// markerFree matches a free marker or a feedback marker whose holder died.
const markerFree = `(run_id IS NULL OR (run_id LIKE 'feedback-%' AND run_started_at < NOW() - INTERVAL '5 minutes'))`

// AcquireRun sets the run marker if no run holds it and the project is not
// terminal. It reports whether this caller now owns the project.
func (r *ProjectRepo) AcquireRun(ctx context.Context, projectID, runID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE projects SET run_id=$2, run_started_at=NOW(), updated_at=NOW()
WHERE project_id=$1::uuid AND `+markerFree+` AND status NOT IN ('ready','failed')`, projectID, runID)
	if err != nil {
		return false, fmt.Errorf("acquire run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AcquireFeedback sets the run marker for a feedback rebalance. Unlike
// AcquireRun it accepts terminal projects, since feedback targets finished
// ones.
func (r *ProjectRepo) AcquireFeedback(ctx context.Context, projectID, holder string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE projects SET run_id=$2, run_started_at=NOW()
WHERE project_id=$1::uuid AND `+markerFree, projectID, holder)
	if err != nil {
		return false, fmt.Errorf("acquire feedback marker: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForceAcquireRun replaces a stale marker. It only succeeds while the marker
// still equals staleRunID.
func (r *ProjectRepo) ForceAcquireRun(ctx context.Context, projectID, staleRunID, runID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE projects SET run_id=$3, run_started_at=NOW(), updated_at=NOW()
WHERE project_id=$1::uuid AND run_id=$2 AND status NOT IN ('ready','failed')`, projectID, staleRunID, runID)
	if err != nil {
		return false, fmt.Errorf("force acquire run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProjectRepo) ReleaseRun(ctx context.Context, projectID, runID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE projects SET run_id=NULL, run_started_at=NULL, updated_at=NOW() WHERE project_id=$1::uuid AND run_id=$2`, projectID, runID)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return nil
}

// BeginStage records that stage is running.
func (r *ProjectRepo) BeginStage(ctx context.Context, projectID string, stage models.Stage) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE projects SET stage=$2, status=$3, updated_at=NOW() WHERE project_id=$1::uuid AND status NOT IN ('ready','failed')`,
		projectID, stage, models.StatusFor(stage))
	if err != nil {
		return fmt.Errorf("begin stage: %w", err)
	}
	return nil
}

// CommitStage stores the stage cost and advances the stage pointer in one
// transaction. Re-committing a stage overwrites its cost row.
func (r *ProjectRepo) CommitStage(ctx context.Context, projectID string, stage models.Stage, cost float64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx commit stage: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := upsertStageCost(ctx, tx, projectID, stage, cost); err != nil {
		return err
	}
	next := stage.Next()
	_, err = tx.Exec(ctx, `
UPDATE projects SET last_committed_stage=$2, stage=$3, status=$4, updated_at=NOW()
WHERE project_id=$1::uuid AND status NOT IN ('ready','failed')`, projectID, stage, next, models.StatusFor(next))
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit stage tx: %w", err)
	}
	return nil
}

// RecordStageCost stores spend for a stage that did not commit.
func (r *ProjectRepo) RecordStageCost(ctx context.Context, projectID string, stage models.Stage, cost float64) error {
	return upsertStageCost(ctx, r.db.Pool, projectID, stage, cost)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertStageCost(ctx context.Context, q execer, projectID string, stage models.Stage, cost float64) error {
	_, err := q.Exec(ctx, `
INSERT INTO stage_costs (project_id, stage, cost) VALUES ($1::uuid, $2, $3)
ON CONFLICT (project_id, stage) DO UPDATE SET cost=EXCLUDED.cost, updated_at=NOW()`, projectID, stage, cost)
	if err != nil {
		return fmt.Errorf("upsert stage cost: %w", err)
	}
	return nil
}

func (r *ProjectRepo) SetDuration(ctx context.Context, projectID string, seconds float64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE projects SET duration_seconds=$2, updated_at=NOW() WHERE project_id=$1::uuid`, projectID, seconds)
	if err != nil {
		return fmt.Errorf("set duration: %w", err)
	}
	return nil
}

// Fail moves the project to the terminal failed state. Segments are kept.
func (r *ProjectRepo) Fail(ctx context.Context, projectID, kind, message string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE projects SET stage=$2, status=$3, error_kind=NULLIF($4,''), error_message=NULLIF($5,''), updated_at=NOW()
WHERE project_id=$1::uuid`, projectID, models.StageFailed, models.ProjectFailed, kind, message)
	if err != nil {
		return fmt.Errorf("fail project: %w", err)
	}
	return nil
}

func (r *ProjectRepo) MarkReady(ctx context.Context, projectID string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE projects SET stage=$2, last_committed_stage=$3, status=$4, error_kind=NULL, error_message=NULL, updated_at=NOW()
WHERE project_id=$1::uuid AND status <> 'failed'`, projectID, models.StageDone, models.StageClipGeneration, models.ProjectReady)
	if err != nil {
		return fmt.Errorf("mark project ready: %w", err)
	}
	return nil
}

func (r *ProjectRepo) TotalCost(ctx context.Context, projectID string) (float64, error) {
	var total float64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(SUM(cost),0) FROM stage_costs WHERE project_id=$1::uuid`, projectID).Scan(&total); err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total, nil
}
