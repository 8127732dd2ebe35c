package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"highlightflow/internal/models"
	"highlightflow/internal/util"

	"github.com/jackc/pgx/v5"
)

type SegmentRepo struct {
	db *DB
}

func NewSegmentRepo(db *DB) *SegmentRepo {
	return &SegmentRepo{db: db}
}

// UpsertRefined writes refinement output keyed by (project_id, start_time).
// Re-running refinement updates rows in place and clears downstream scores.
func (r *SegmentRepo) UpsertRefined(ctx context.Context, projectID string, segs []models.Segment) error {
	if len(segs) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert segments: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, s := range segs {
		if err := s.Validate(); err != nil {
			return err
		}
		features, err := json.Marshal(s.Features)
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		tags := s.ContentTags
		if tags == nil {
			tags = []string{}
		}
		_, err = tx.Exec(ctx, `
INSERT INTO segments (project_id, start_time, end_time, coarse_score, refined_score, confidence, highlight_type, reasoning, content_tags, features, status)
VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9, $10::jsonb, 'pending')
ON CONFLICT (project_id, start_time)
DO UPDATE SET
  end_time = EXCLUDED.end_time,
  coarse_score = EXCLUDED.coarse_score,
  refined_score = EXCLUDED.refined_score,
  confidence = EXCLUDED.confidence,
  highlight_type = EXCLUDED.highlight_type,
  reasoning = EXCLUDED.reasoning,
  content_tags = EXCLUDED.content_tags,
  features = EXCLUDED.features,
  embedding_score = NULL,
  final_score = NULL,
  status = 'pending',
  clip_uri = NULL,
  error_message = NULL,
  updated_at = NOW()`,
			projectID, s.StartTime, s.EndTime, s.CoarseScore, s.RefinedScore, s.Confidence,
			util.SanitizeText(s.HighlightType), util.SanitizeText(s.Reasoning), tags, string(features),
		)
		if err != nil {
			return fmt.Errorf("upsert segment %.3f: %w", s.StartTime, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit segments tx: %w", err)
	}
	return nil
}

const segmentColumns = `
segment_id::text, project_id::text, start_time, end_time, coarse_score, refined_score, embedding_score, final_score,
signal_adjustment, COALESCE(feedback_verdict,''), feedback_adjustment, confidence,
COALESCE(highlight_type,''), COALESCE(reasoning,''), content_tags, features, status,
COALESCE(clip_uri,''), COALESCE(error_message,''), created_at, updated_at`

func scanSegment(row pgx.Row) (models.Segment, error) {
	var (
		s        models.Segment
		features []byte
	)
	err := row.Scan(
		&s.SegmentID, &s.ProjectID, &s.StartTime, &s.EndTime, &s.CoarseScore, &s.RefinedScore, &s.EmbeddingScore, &s.FinalScore,
		&s.SignalAdjustment, &s.FeedbackVerdict, &s.FeedbackAdjustment, &s.Confidence,
		&s.HighlightType, &s.Reasoning, &s.ContentTags, &features, &s.Status,
		&s.ClipURI, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return models.Segment{}, err
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return models.Segment{}, fmt.Errorf("decode features for %s: %w", s.SegmentID, err)
		}
	}
	return s, nil
}

func (r *SegmentRepo) List(ctx context.Context, projectID string) ([]models.Segment, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+segmentColumns+` FROM segments WHERE project_id=$1::uuid ORDER BY start_time ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	out := make([]models.Segment, 0, 32)
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

func (r *SegmentRepo) Get(ctx context.Context, segmentID string) (models.Segment, error) {
	s, err := scanSegment(r.db.Pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE segment_id=$1::uuid`, segmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Segment{}, fmt.Errorf("segment %s: %w", segmentID, ErrNotFound)
	}
	if err != nil {
		return models.Segment{}, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

// UpdateEmbedding stores embedding scores for every given segment, including
// nil scores for segments outside the top-K.
func (r *SegmentRepo) UpdateEmbedding(ctx context.Context, projectID string, segs []models.Segment) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx update embedding: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, s := range segs {
		if _, err := tx.Exec(ctx, `UPDATE segments SET embedding_score=$3, updated_at=NOW() WHERE project_id=$1::uuid AND segment_id=$2::uuid`,
			projectID, s.SegmentID, s.EmbeddingScore); err != nil {
			return fmt.Errorf("update embedding %s: %w", s.SegmentID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit embedding tx: %w", err)
	}
	return nil
}

// SaveScores replaces final scores, feedback and status for all given
// segments in one transaction. Readers see either the old or the new ranking.
func (r *SegmentRepo) SaveScores(ctx context.Context, projectID string, segs []models.Segment) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save scores: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, s := range segs {
		_, err := tx.Exec(ctx, `
UPDATE segments SET final_score=$3, signal_adjustment=$4, feedback_verdict=NULLIF($5,''), feedback_adjustment=$6, status=$7, updated_at=NOW()
WHERE project_id=$1::uuid AND segment_id=$2::uuid`,
			projectID, s.SegmentID, s.FinalScore, s.SignalAdjustment, string(s.FeedbackVerdict), s.FeedbackAdjustment, s.Status)
		if err != nil {
			return fmt.Errorf("save score %s: %w", s.SegmentID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scores tx: %w", err)
	}
	return nil
}

func (r *SegmentRepo) SetClip(ctx context.Context, segmentID, uri string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE segments SET clip_uri=$2, error_message=NULL, updated_at=NOW() WHERE segment_id=$1::uuid`, segmentID, uri)
	if err != nil {
		return fmt.Errorf("set clip: %w", err)
	}
	return nil
}

func (r *SegmentRepo) MarkClipFailed(ctx context.Context, segmentID, message string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE segments SET status='failed', error_message=$2, updated_at=NOW() WHERE segment_id=$1::uuid`,
		segmentID, util.DisplaySnippet(message, 500))
	if err != nil {
		return fmt.Errorf("mark clip failed: %w", err)
	}
	return nil
}
