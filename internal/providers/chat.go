package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// tokenPrice is USD per 1k tokens.
type tokenPrice struct {
	Prompt     float64
	Completion float64
}

func (p tokenPrice) cost(u chatUsage) float64 {
	return float64(u.PromptTokens)/1000*p.Prompt + float64(u.CompletionTokens)/1000*p.Completion
}

// chatJSON calls an OpenAI-compatible chat completions endpoint asking for a
// JSON object and decodes the message content into out.
func chatJSON(ctx context.Context, client *http.Client, url, apiKey, model, system, user string, out any) (chatUsage, error) {
	payload, err := json.Marshal(map[string]any{
		"model":           model,
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	})
	if err != nil {
		return chatUsage{}, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return chatUsage{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return chatUsage{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return chatUsage{}, fmt.Errorf("chat error %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage chatUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return chatUsage{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return parsed.Usage, fmt.Errorf("chat returned empty choices")
	}
	content := stripCodeFence(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return parsed.Usage, fmt.Errorf("decode chat content as json: %w", err)
	}
	return parsed.Usage, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const analyzeSystemPrompt = "You find highlight moments in videos for short-form social clips. " +
	"Reply with a JSON object {\"segments\":[{\"start\":seconds,\"end\":seconds,\"score\":0-100}]}. " +
	"Use score 0 for windows you cannot judge."

const refineSystemPrompt = "You re-evaluate candidate highlight segments. " +
	"Reply with a JSON object {\"segments\":[{\"start\":seconds,\"end\":seconds,\"score\":0-100," +
	"\"classification\":string,\"reasoning\":string,\"confidence\":0-1,\"tags\":[string]}]}, one entry per candidate."

func analyzePrompt(req AnalyzeRequest) string {
	hints, _ := json.Marshal(req.Hints)
	return fmt.Sprintf(
		"Media: %s\nContent type: %s\nDensity: %s\nWindow: %.1fs to %.1fs\nClip length: %.0fs to %.0fs\nSignals: %s",
		req.MediaRef, req.ContentType, req.Density, req.WindowStart, req.WindowEnd, req.MinSeconds, req.MaxSeconds, string(hints),
	)
}

func refinePrompt(req RefineRequest) string {
	cands, _ := json.Marshal(req.Candidates)
	return fmt.Sprintf("Media: %s\nContent type: %s\nCandidates: %s", req.MediaRef, req.ContentType, string(cands))
}
