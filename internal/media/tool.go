package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"highlightflow/internal/util"

	"github.com/rs/zerolog"
)

type Options struct {
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds every single invocation.
	Timeout time.Duration
}

// Tool wraps ffmpeg and ffprobe.
type Tool struct {
	runner      Runner
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

func New(runner Runner, logger zerolog.Logger, opts Options) (*Tool, error) {
	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = p
	}
	ffprobePath := opts.FFprobePath
	if ffprobePath == "" {
		p, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
		ffprobePath = p
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Tool{
		runner:      runner,
		logger:      logger.With().Str("component", "media").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
	}, nil
}

func (t *Tool) ffmpeg(ctx context.Context, args ...string) (string, error) {
	base := []string{"-hide_banner", "-nostdin", "-y"}
	return t.exec(ctx, t.ffmpegPath, append(base, args...)...)
}

func (t *Tool) ffprobe(ctx context.Context, args ...string) (string, error) {
	return t.exec(ctx, t.ffprobePath, args...)
}

func (t *Tool) exec(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.logger.Debug().Str("cmd", name).Strs("args", args).Msg("executing media tool")
	started := time.Now()
	out, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return string(out), fmt.Errorf("%s timed out after %s: %w", name, t.timeout, util.ErrTransientService)
		}
		if ctx.Err() != nil {
			return string(out), ctx.Err()
		}
		return string(out), fmt.Errorf("%s failed: %w: %s", name, err, tail(string(out), 400))
	}
	t.logger.Debug().Str("cmd", name).Dur("took", time.Since(started)).Msg("media tool completed")
	return string(out), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
