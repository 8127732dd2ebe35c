package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaEmbeddingProvider embeds segment descriptions and content-type
// prototypes through a local Ollama server. A whole batch goes in one
// /api/embed request.
type OllamaEmbeddingProvider struct {
	alias   string
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaEmbeddingProvider(alias string) *OllamaEmbeddingProvider {
	baseURL := strings.TrimSpace(os.Getenv("HIGHLIGHTFLOW_OLLAMA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbeddingProvider{
		alias:   alias,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   resolveOllamaEmbedModel(alias),
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (o *OllamaEmbeddingProvider) info() ProviderInfo {
	return ProviderInfo{Name: "ollama", Model: o.model, Key: o.alias}
}

func (o *OllamaEmbeddingProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	op := req.Operation
	if op == "" {
		op = "segment"
	}
	if len(req.Inputs) == 0 {
		return nil, o.info(), fmt.Errorf("ollama %s embed: no descriptions", op)
	}
	payload, err := json.Marshal(map[string]any{
		"model": o.model,
		"input": req.Inputs,
	})
	if err != nil {
		return nil, o.info(), fmt.Errorf("encode ollama %s embed request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, o.info(), err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, o.info(), fmt.Errorf("ollama %s embed request failed: %w", op, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, o.info(), fmt.Errorf("ollama %s embed error %d: %s", op, resp.StatusCode, string(body))
	}
	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, o.info(), fmt.Errorf("decode ollama %s embed response: %w", op, err)
	}
	if len(parsed.Embeddings) != len(req.Inputs) {
		return nil, o.info(), fmt.Errorf("ollama %s embed: got %d vectors for %d descriptions", op, len(parsed.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, 0, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		if len(v) == 0 {
			return nil, o.info(), fmt.Errorf("ollama %s embed: empty vector for description %d", op, i)
		}
		out = append(out, matchDimension(v, req.Dimension))
	}
	return out, o.info(), nil
}

// resolveOllamaEmbedModel picks the model for a provider alias:
// HIGHLIGHTFLOW_OLLAMA_EMBED_MODEL_<ALIAS>, a known short name, the alias
// itself when it looks like a model tag, then HIGHLIGHTFLOW_OLLAMA_EMBED_MODEL.
func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		if v := strings.TrimSpace(os.Getenv("HIGHLIGHTFLOW_OLLAMA_EMBED_MODEL_" + envToken(alias))); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		case "mxbai":
			return "mxbai-embed-large"
		}
		if strings.ContainsAny(alias, "-/.:") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("HIGHLIGHTFLOW_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

func envToken(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_", ":", "_").Replace(strings.ToUpper(s))
}

// matchDimension truncates or zero-pads v so segment and prototype vectors
// from different models compare at the configured dimension.
func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
