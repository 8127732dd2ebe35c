package providers

import (
	"fmt"
	"strings"

	"highlightflow/internal/config"
)

type NamedAnalysisProvider struct {
	Ref      ProviderRef
	Provider AnalysisProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager owns the configured providers. Every provider it hands out shares
// one Limiter.
type Manager struct {
	analysis []NamedAnalysisProvider
	embed    []NamedEmbedProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	limiter := NewLimiter(cfg.ServiceConcurrency, cfg.ServiceCallTimeout)
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.AnalysisProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		ap, ok := p.(AnalysisProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support analysis", ref.Raw)
		}
		m.analysis = append(m.analysis, NamedAnalysisProvider{Ref: ref, Provider: LimitAnalysis(ap, limiter)})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		ep, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embed = append(m.embed, NamedEmbedProvider{Ref: ref, Provider: LimitEmbedding(ep, limiter)})
	}
	return m, nil
}

// AnalysisOrder returns the analysis providers with real services ahead of mock.
func (m *Manager) AnalysisOrder() []NamedAnalysisProvider {
	order := preferredOrder(len(m.analysis), func(i int) string { return strings.ToLower(m.analysis[i].Ref.Name) })
	out := make([]NamedAnalysisProvider, 0, len(order))
	for _, i := range order {
		out = append(out, m.analysis[i])
	}
	return out
}

func (m *Manager) FirstAnalysis() NamedAnalysisProvider {
	return m.AnalysisOrder()[0]
}

func (m *Manager) FirstEmbed() NamedEmbedProvider {
	order := preferredOrder(len(m.embed), func(i int) string { return strings.ToLower(m.embed[i].Ref.Name) })
	return m.embed[order[0]]
}

func (m *Manager) AnalysisCount() int {
	return len(m.analysis)
}

func (m *Manager) EmbedCount() int {
	return len(m.embed)
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
