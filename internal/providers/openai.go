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

// OpenAIProvider uses the OpenAI REST APIs for analysis and embeddings when keys are configured.
type OpenAIProvider struct {
	keyName    string
	apiKey     string
	baseURL    string
	chatModel  string
	embedModel string
	price      tokenPrice
	embedPrice float64
	client     *http.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	baseURL := strings.TrimSpace(os.Getenv("HIGHLIGHTFLOW_OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return newOpenAIProvider(keyName, resolveOpenAIKey(keyName), baseURL)
}

func newOpenAIProvider(keyName, apiKey, baseURL string) *OpenAIProvider {
	chatModel := strings.TrimSpace(os.Getenv("HIGHLIGHTFLOW_OPENAI_MODEL"))
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		keyName:    keyName,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: "text-embedding-3-small",
		price:      tokenPrice{Prompt: 0.00015, Completion: 0.0006},
		embedPrice: 0.00002,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "openai", Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, ProviderInfo, error) {
	if o.apiKey == "" {
		return AnalyzeResponse{}, o.info(o.chatModel), fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	var parsed struct {
		Segments []Candidate `json:"segments"`
	}
	usage, err := chatJSON(ctx, o.client, o.baseURL+"/chat/completions", o.apiKey, o.chatModel, analyzeSystemPrompt, analyzePrompt(req), &parsed)
	if err != nil {
		return AnalyzeResponse{}, o.info(o.chatModel), fmt.Errorf("openai analyze: %w", err)
	}
	return AnalyzeResponse{Segments: NormalizeCandidates(parsed.Segments), CostEstimate: o.price.cost(usage)}, o.info(o.chatModel), nil
}

func (o *OpenAIProvider) Refine(ctx context.Context, req RefineRequest) (RefineResponse, ProviderInfo, error) {
	if o.apiKey == "" {
		return RefineResponse{}, o.info(o.chatModel), fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	var parsed struct {
		Segments []RefinedSegment `json:"segments"`
	}
	usage, err := chatJSON(ctx, o.client, o.baseURL+"/chat/completions", o.apiKey, o.chatModel, refineSystemPrompt, refinePrompt(req), &parsed)
	if err != nil {
		return RefineResponse{}, o.info(o.chatModel), fmt.Errorf("openai refine: %w", err)
	}
	return RefineResponse{Segments: NormalizeRefined(parsed.Segments), CostEstimate: o.price.cost(usage)}, o.info(o.chatModel), nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if o.apiKey == "" {
		return nil, o.info(o.embedModel), fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	body := map[string]any{"model": o.embedModel, "input": req.Inputs}
	if req.Dimension > 0 {
		body["dimensions"] = req.Dimension
	}
	payload, _ := json.Marshal(body)
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(payload))
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, o.info(o.embedModel), fmt.Errorf("openai embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, o.info(o.embedModel), fmt.Errorf("openai embedding error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, o.info(o.embedModel), fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(req.Inputs) {
		return nil, o.info(o.embedModel), fmt.Errorf("openai returned %d embeddings for %d inputs", len(parsed.Data), len(req.Inputs))
	}
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, matchDimension(d.Embedding, req.Dimension))
	}
	return out, o.info(o.embedModel), nil
}

func resolveOpenAIKey(alias string) string {
	if alias != "" {
		k := os.Getenv("HIGHLIGHTFLOW_OPENAI_KEY_" + strings.ToUpper(alias))
		if k != "" {
			return k
		}
	}
	return os.Getenv("OPENAI_API_KEY")
}
