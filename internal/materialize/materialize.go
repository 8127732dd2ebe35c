package materialize

import (
	"context"
	"fmt"
	"os"
	"path"

	"highlightflow/internal/models"
	"highlightflow/internal/objectstore"

	"github.com/rs/zerolog"
)

type Cutter interface {
	CutClip(ctx context.Context, input string, start, end float64, dir string) (string, error)
}

type Materializer struct {
	cutter  Cutter
	store   objectstore.Store
	workDir string
	logger  zerolog.Logger
}

func New(cutter Cutter, store objectstore.Store, workDir string, logger zerolog.Logger) *Materializer {
	return &Materializer{cutter: cutter, store: store, workDir: workDir, logger: logger.With().Str("component", "materialize").Logger()}
}

func ClipKey(projectID, segmentID string) string {
	return path.Join("clips", projectID, segmentID+".mp4")
}

// Materialize cuts one segment out of the project source and uploads it. A
// failed upload deletes whatever may exist under the clip key. Local files
// are removed on every path.
func (m *Materializer) Materialize(ctx context.Context, p models.Project, s models.Segment) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(m.workDir, "clip-*")
	if err != nil {
		return "", fmt.Errorf("create clip work dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	src, err := objectstore.FetchToFile(ctx, m.store, p.SourceKey, dir)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	out, err := m.cutter.CutClip(ctx, src, s.StartTime, s.EndTime, dir)
	if err != nil {
		return "", fmt.Errorf("cut clip: %w", err)
	}
	f, err := os.Open(out)
	if err != nil {
		return "", fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	key := ClipKey(p.ProjectID, s.SegmentID)
	uri, err := m.store.Upload(ctx, key, f)
	if err != nil {
		if derr := m.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
			m.logger.Warn().Err(derr).Str("key", key).Msg("cleanup partial clip failed")
		}
		return "", fmt.Errorf("upload clip: %w", err)
	}
	m.logger.Info().Str("project_id", p.ProjectID).Str("segment_id", s.SegmentID).Str("uri", uri).Msg("clip materialized")
	return uri, nil
}
