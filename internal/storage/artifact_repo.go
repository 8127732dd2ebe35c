package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"highlightflow/internal/models"

	"github.com/jackc/pgx/v5"
)

// ArtifactRepo keeps per-stage outputs that do not live on segment rows,
// such as preprocessing features and coarse candidates.
type ArtifactRepo struct {
	db *DB
}

func NewArtifactRepo(db *DB) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

func (r *ArtifactRepo) Put(ctx context.Context, projectID string, stage models.Stage, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s artifact: %w", stage, err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO stage_artifacts (project_id, stage, payload) VALUES ($1::uuid, $2, $3::jsonb)
ON CONFLICT (project_id, stage) DO UPDATE SET payload=EXCLUDED.payload, updated_at=NOW()`, projectID, stage, string(payload))
	if err != nil {
		return fmt.Errorf("put %s artifact: %w", stage, err)
	}
	return nil
}

// Get decodes the stored artifact into out. It returns ErrNotFound when the
// stage has not written one.
func (r *ArtifactRepo) Get(ctx context.Context, projectID string, stage models.Stage, out any) error {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT payload FROM stage_artifacts WHERE project_id=$1::uuid AND stage=$2`, projectID, stage).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s artifact for %s: %w", stage, projectID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s artifact: %w", stage, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s artifact: %w", stage, err)
	}
	return nil
}
