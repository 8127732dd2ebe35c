package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS projects (
  project_id UUID PRIMARY KEY,
  owner_id TEXT NOT NULL,
  source_key TEXT NOT NULL DEFAULT '',
  content_type TEXT NOT NULL,
  target_clip_count INT NOT NULL,
  min_clip_seconds DOUBLE PRECISION NOT NULL,
  max_clip_seconds DOUBLE PRECISION NOT NULL,
  stage TEXT NOT NULL DEFAULT 'preprocessing',
  last_committed_stage TEXT,
  status TEXT NOT NULL DEFAULT 'queued'
    CHECK (status IN ('queued','analyzing','scoring','generating-clips','ready','failed')),
  duration_seconds DOUBLE PRECISION,
  error_kind TEXT,
  error_message TEXT,
  run_id TEXT,
  run_started_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS segments (
  segment_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  project_id UUID NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
  start_time DOUBLE PRECISION NOT NULL,
  end_time DOUBLE PRECISION NOT NULL,
  coarse_score DOUBLE PRECISION,
  refined_score DOUBLE PRECISION,
  embedding_score DOUBLE PRECISION,
  final_score DOUBLE PRECISION CHECK (final_score IS NULL OR (final_score >= 0 AND final_score <= 100)),
  signal_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
  feedback_verdict TEXT CHECK (feedback_verdict IS NULL OR feedback_verdict IN ('accept','reject')),
  feedback_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
  confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  highlight_type TEXT,
  reasoning TEXT,
  content_tags TEXT[] NOT NULL DEFAULT '{}',
  features JSONB NOT NULL DEFAULT '{}',
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','recommended','rejected','failed')),
  clip_uri TEXT,
  error_message TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CHECK (end_time > start_time),
  UNIQUE (project_id, start_time)
);

CREATE TABLE IF NOT EXISTS stage_costs (
  project_id UUID NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (project_id, stage)
);

CREATE TABLE IF NOT EXISTS stage_artifacts (
  project_id UUID NOT NULL REFERENCES projects(project_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  payload JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (project_id, stage)
);

CREATE TABLE IF NOT EXISTS service_calls (
  call_id UUID PRIMARY KEY,
  project_id UUID REFERENCES projects(project_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  operation TEXT NOT NULL,
  provider_name TEXT NOT NULL,
  model TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error_kind TEXT,
  cost DOUBLE PRECISION NOT NULL DEFAULT 0,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS prototype_embeddings (
  content_type TEXT NOT NULL,
  model TEXT NOT NULL,
  version TEXT NOT NULL,
  digest TEXT NOT NULL,
  position INT NOT NULL,
  description TEXT NOT NULL,
  embedding vector NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (content_type, model, version, digest, position)
);

CREATE TABLE IF NOT EXISTS credit_accounts (
  owner_id TEXT PRIMARY KEY,
  balance DOUBLE PRECISION NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS billing_charges (
  project_id UUID PRIMARY KEY REFERENCES projects(project_id) ON DELETE CASCADE,
  owner_id TEXT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_segments_project ON segments(project_id, start_time);
CREATE INDEX IF NOT EXISTS idx_service_calls_project ON service_calls(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_billing_owner ON billing_charges(owner_id);
`

// Migrate creates every table the pipeline needs. It is safe to run on
// every start.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
