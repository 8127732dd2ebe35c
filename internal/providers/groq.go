package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// GroqProvider supports analysis via Groq's OpenAI-compatible API. It has no
// embedding endpoint.
type GroqProvider struct {
	keyName string
	apiKey  string
	baseURL string
	model   string
	price   tokenPrice
	client  *http.Client
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := os.Getenv("HIGHLIGHTFLOW_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	return &GroqProvider{
		keyName: keyName,
		apiKey:  resolveGroqKey(keyName),
		baseURL: "https://api.groq.com/openai/v1",
		model:   model,
		price:   tokenPrice{Prompt: 0.00005, Completion: 0.00008},
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GroqProvider) info() ProviderInfo {
	return ProviderInfo{Name: "groq", Key: g.keyName, Model: g.model}
}

func (g *GroqProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, ProviderInfo, error) {
	if g.apiKey == "" {
		return AnalyzeResponse{}, g.info(), fmt.Errorf("groq key missing for alias %q", g.keyName)
	}
	var parsed struct {
		Segments []Candidate `json:"segments"`
	}
	usage, err := chatJSON(ctx, g.client, g.baseURL+"/chat/completions", g.apiKey, g.model, analyzeSystemPrompt, analyzePrompt(req), &parsed)
	if err != nil {
		return AnalyzeResponse{}, g.info(), fmt.Errorf("groq analyze: %w", err)
	}
	return AnalyzeResponse{Segments: NormalizeCandidates(parsed.Segments), CostEstimate: g.price.cost(usage)}, g.info(), nil
}

func (g *GroqProvider) Refine(ctx context.Context, req RefineRequest) (RefineResponse, ProviderInfo, error) {
	if g.apiKey == "" {
		return RefineResponse{}, g.info(), fmt.Errorf("groq key missing for alias %q", g.keyName)
	}
	var parsed struct {
		Segments []RefinedSegment `json:"segments"`
	}
	usage, err := chatJSON(ctx, g.client, g.baseURL+"/chat/completions", g.apiKey, g.model, refineSystemPrompt, refinePrompt(req), &parsed)
	if err != nil {
		return RefineResponse{}, g.info(), fmt.Errorf("groq refine: %w", err)
	}
	return RefineResponse{Segments: NormalizeRefined(parsed.Segments), CostEstimate: g.price.cost(usage)}, g.info(), nil
}

func resolveGroqKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("HIGHLIGHTFLOW_GROQ_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("GROQ_API_KEY")
}
