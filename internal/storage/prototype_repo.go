package storage

import (
	"context"
	"fmt"

	"highlightflow/internal/embedding"
	"highlightflow/internal/vector"
)

type PrototypeRepo struct {
	db *DB
}

func NewPrototypeRepo(db *DB) *PrototypeRepo {
	return &PrototypeRepo{db: db}
}

var _ embedding.PrototypeStore = (*PrototypeRepo)(nil)

func (r *PrototypeRepo) LoadPrototypes(ctx context.Context, key embedding.CacheKey) ([][]float32, bool, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT embedding::text FROM prototype_embeddings
WHERE content_type=$1 AND model=$2 AND version=$3 AND digest=$4
ORDER BY position ASC`, key.ContentType, key.Model, key.Version, key.Digest)
	if err != nil {
		return nil, false, fmt.Errorf("load prototypes: %w", err)
	}
	defer rows.Close()

	out := make([][]float32, 0, 8)
	for rows.Next() {
		var lit string
		if err := rows.Scan(&lit); err != nil {
			return nil, false, fmt.Errorf("scan prototype: %w", err)
		}
		v, err := vector.ParseLiteral(lit)
		if err != nil {
			return nil, false, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate prototypes: %w", err)
	}
	return out, len(out) > 0, nil
}

func (r *PrototypeRepo) SavePrototypes(ctx context.Context, key embedding.CacheKey, texts []string, vectors [][]float32) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save prototypes: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for i, v := range vectors {
		_, err := tx.Exec(ctx, `
INSERT INTO prototype_embeddings (content_type, model, version, digest, position, description, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
ON CONFLICT (content_type, model, version, digest, position)
DO UPDATE SET description=EXCLUDED.description, embedding=EXCLUDED.embedding`,
			key.ContentType, key.Model, key.Version, key.Digest, i, texts[i], vector.ToLiteral(v))
		if err != nil {
			return fmt.Errorf("save prototype %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit prototypes tx: %w", err)
	}
	return nil
}
