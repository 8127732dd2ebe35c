package providers

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter caps simultaneous external calls across all projects in the
// process and bounds each call with a timeout.
type Limiter struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewLimiter(maxConcurrent int, timeout time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(maxConcurrent)), timeout: timeout}
}

func (l *Limiter) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return Classify(fn(ctx))
}

type limitedAnalysis struct {
	inner AnalysisProvider
	l     *Limiter
}

// LimitAnalysis wraps p so every call goes through l.
func LimitAnalysis(p AnalysisProvider, l *Limiter) AnalysisProvider {
	return &limitedAnalysis{inner: p, l: l}
}

func (p *limitedAnalysis) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, ProviderInfo, error) {
	var (
		resp AnalyzeResponse
		info ProviderInfo
	)
	err := p.l.do(ctx, func(ctx context.Context) error {
		var err error
		resp, info, err = p.inner.Analyze(ctx, req)
		return err
	})
	return resp, info, err
}

func (p *limitedAnalysis) Refine(ctx context.Context, req RefineRequest) (RefineResponse, ProviderInfo, error) {
	var (
		resp RefineResponse
		info ProviderInfo
	)
	err := p.l.do(ctx, func(ctx context.Context) error {
		var err error
		resp, info, err = p.inner.Refine(ctx, req)
		return err
	})
	return resp, info, err
}

type limitedEmbedding struct {
	inner EmbeddingProvider
	l     *Limiter
}

func LimitEmbedding(p EmbeddingProvider, l *Limiter) EmbeddingProvider {
	return &limitedEmbedding{inner: p, l: l}
}

func (p *limitedEmbedding) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	var (
		out  [][]float32
		info ProviderInfo
	)
	err := p.l.do(ctx, func(ctx context.Context) error {
		var err error
		out, info, err = p.inner.Embed(ctx, req)
		return err
	})
	return out, info, err
}
