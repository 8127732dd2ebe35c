package preprocess

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"highlightflow/internal/media"
	"highlightflow/internal/models"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type MediaTool interface {
	Probe(ctx context.Context, path string) (media.ProbeInfo, error)
	ExtractAudio(ctx context.Context, input, dir string) (string, error)
	DetectSilence(ctx context.Context, audioPath string, thresholdDb, minDuration float64) ([]models.SilenceSpan, error)
	DetectSceneCuts(ctx context.Context, path string, sensitivity float64) ([]float64, error)
	MeanVolume(ctx context.Context, audioPath string) (float64, float64, error)
}

type Options struct {
	WorkDir            string
	SilenceThresholdDb float64
	SilenceMinSecs     float64
	SceneSensitivity   float64
	EnergyWindowSecs   float64
	WaveformPoints     int
}

type Analyzer struct {
	tool    MediaTool
	opts    Options
	logger  zerolog.Logger
	readPCM func(path string) ([]float64, int, error)
}

func NewAnalyzer(tool MediaTool, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.SilenceThresholdDb == 0 {
		opts.SilenceThresholdDb = -30
	}
	if opts.SilenceMinSecs <= 0 {
		opts.SilenceMinSecs = 0.5
	}
	if opts.SceneSensitivity <= 0 {
		opts.SceneSensitivity = 0.4
	}
	if opts.EnergyWindowSecs <= 0 {
		opts.EnergyWindowSecs = 0.5
	}
	if opts.WaveformPoints <= 0 {
		opts.WaveformPoints = 2000
	}
	return &Analyzer{
		tool:    tool,
		opts:    opts,
		logger:  logger.With().Str("component", "preprocess").Logger(),
		readPCM: media.ReadPCM16,
	}
}

// Analyze extracts signal-level features from the media at path. Losing the
// audio track is fatal; silence, scene and volume failures degrade to empty
// or derived values and are listed in MediaFeatures.Degraded.
func (a *Analyzer) Analyze(ctx context.Context, path string) (models.MediaFeatures, error) {
	info, err := a.tool.Probe(ctx, path)
	if err != nil {
		return models.MediaFeatures{}, err
	}
	if !info.HasAudio {
		return models.MediaFeatures{}, fmt.Errorf("%s has no audio stream: %w", path, util.ErrInvalidMedia)
	}

	dir, err := os.MkdirTemp(a.opts.WorkDir, "preprocess-*")
	if err != nil {
		return models.MediaFeatures{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn().Err(err).Str("dir", dir).Msg("remove work dir")
		}
	}()

	audioPath, err := a.tool.ExtractAudio(ctx, path, dir)
	if err != nil {
		return models.MediaFeatures{}, err
	}
	samples, rate, err := a.readPCM(audioPath)
	if err != nil {
		return models.MediaFeatures{}, fmt.Errorf("decode audio: %w", err)
	}
	if rate <= 0 || len(samples) == 0 {
		return models.MediaFeatures{}, fmt.Errorf("decoded audio is empty: %w", util.ErrInvalidMedia)
	}

	out := models.MediaFeatures{
		DurationSeconds: info.Duration,
		Width:           info.Width,
		Height:          info.Height,
		SampleRate:      info.SampleRate,
		EnergyWindow:    a.opts.EnergyWindowSecs,
		Silences:        []models.SilenceSpan{},
		SceneCuts:       []models.SceneCut{},
		Peaks:           []models.EnergyPeak{},
	}
	var mu sync.Mutex
	degrade := func(analysis string, err error) {
		a.logger.Warn().Err(err).Str("analysis", analysis).Str("path", path).Msg("analysis degraded")
		mu.Lock()
		out.Degraded = append(out.Degraded, analysis)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		envelope := Envelope(samples, rate, a.opts.EnergyWindowSecs)
		avg := meanOf(envelope)
		if meanDb, _, err := a.tool.MeanVolume(ctx, audioPath); err != nil {
			degrade("volume", err)
		} else {
			avg = DbToLinear(meanDb)
		}
		peaks := Peaks(envelope, a.opts.EnergyWindowSecs)
		mu.Lock()
		out.Envelope = envelope
		out.AverageEnergy = avg
		out.Peaks = peaks
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		spans, err := a.tool.DetectSilence(ctx, audioPath, a.opts.SilenceThresholdDb, a.opts.SilenceMinSecs)
		if err != nil {
			degrade("silence", err)
			return nil
		}
		mu.Lock()
		out.Silences = spans
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		cuts, err := a.tool.DetectSceneCuts(ctx, path, a.opts.SceneSensitivity)
		if err != nil {
			degrade("scenes", err)
			return nil
		}
		list := make([]models.SceneCut, 0, len(cuts))
		for _, c := range cuts {
			list = append(list, models.SceneCut{Timestamp: c})
		}
		mu.Lock()
		out.SceneCuts = list
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		wf := Waveform(samples, a.opts.WaveformPoints)
		mu.Lock()
		out.Waveform = wf
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return models.MediaFeatures{}, err
	}

	a.logger.Info().
		Str("path", path).
		Float64("duration", out.DurationSeconds).
		Float64("avg_energy", out.AverageEnergy).
		Int("peaks", len(out.Peaks)).
		Int("silences", len(out.Silences)).
		Int("scene_cuts", len(out.SceneCuts)).
		Strs("degraded", out.Degraded).
		Msg("preprocessing complete")
	return out, nil
}

func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
