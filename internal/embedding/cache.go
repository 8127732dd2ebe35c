package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"highlightflow/internal/providers"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
)

type CacheKey struct {
	ContentType string
	Model       string
	Version     string
	Digest      string
}

func (k CacheKey) String() string {
	return strings.Join([]string{k.ContentType, k.Model, k.Version, k.Digest}, "/")
}

// PrototypeStore persists prototype vectors across processes.
type PrototypeStore interface {
	LoadPrototypes(ctx context.Context, key CacheKey) ([][]float32, bool, error)
	SavePrototypes(ctx context.Context, key CacheKey, texts []string, vectors [][]float32) error
}

// PrototypeCache memoizes prototype vectors per content type. Concurrent
// misses for the same key may both compute; the output is deterministic so
// the last write wins.
type PrototypeCache struct {
	embedder  providers.EmbeddingProvider
	store     PrototypeStore
	model     string
	version   string
	dimension int
	logger    zerolog.Logger
	mem       sync.Map
}

func NewPrototypeCache(embedder providers.EmbeddingProvider, store PrototypeStore, model, version string, dimension int, logger zerolog.Logger) *PrototypeCache {
	return &PrototypeCache{embedder: embedder, store: store, model: model, version: version, dimension: dimension, logger: logger}
}

// Vectors returns one vector per description. computed reports whether the
// embedding service was called.
func (c *PrototypeCache) Vectors(ctx context.Context, contentType string, descriptions []string) (vectors [][]float32, computed bool, err error) {
	key := CacheKey{
		ContentType: strings.ToLower(contentType),
		Model:       c.model,
		Version:     c.version,
		Digest:      util.SHA256Hex([]byte(strings.Join(descriptions, "\n")))[:16],
	}
	if v, ok := c.mem.Load(key); ok {
		return v.([][]float32), false, nil
	}
	if c.store != nil {
		stored, ok, err := c.store.LoadPrototypes(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("load prototypes %s: %w", key, err)
		}
		if ok && len(stored) == len(descriptions) {
			c.mem.Store(key, stored)
			return stored, false, nil
		}
	}

	out, _, err := c.embedder.Embed(ctx, providers.EmbedRequest{Operation: "prototype", Inputs: descriptions, Dimension: c.dimension})
	if err != nil {
		return nil, true, fmt.Errorf("embed prototypes %s: %w", key, err)
	}
	if len(out) != len(descriptions) {
		return nil, true, fmt.Errorf("embed prototypes %s: got %d vectors for %d descriptions", key, len(out), len(descriptions))
	}
	if c.store != nil {
		// The vectors are still good for this process; the next one recomputes.
		if err := c.store.SavePrototypes(ctx, key, descriptions, out); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("persist prototypes failed")
		}
	}
	c.mem.Store(key, out)
	return out, true, nil
}
