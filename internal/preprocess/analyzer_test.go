package preprocess

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"highlightflow/internal/media"
	"highlightflow/internal/models"
	"highlightflow/internal/util"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	mu         sync.Mutex
	probe      media.ProbeInfo
	probeErr   error
	extractErr error
	sceneErr   error
	volumeErr  error
	silences   []models.SilenceSpan
	workDirs   []string
}

func (f *fakeTool) Probe(context.Context, string) (media.ProbeInfo, error) {
	return f.probe, f.probeErr
}

func (f *fakeTool) ExtractAudio(_ context.Context, _ string, dir string) (string, error) {
	f.mu.Lock()
	f.workDirs = append(f.workDirs, dir)
	f.mu.Unlock()
	if f.extractErr != nil {
		return "", f.extractErr
	}
	path := filepath.Join(dir, "audio.wav")
	samples := make([]int16, 16000)
	for i := 8000; i < 16000; i++ {
		samples[i] = 8000
	}
	return path, os.WriteFile(path, wav(samples, 8000), 0o644)
}

func (f *fakeTool) DetectSilence(context.Context, string, float64, float64) ([]models.SilenceSpan, error) {
	return f.silences, nil
}

func (f *fakeTool) DetectSceneCuts(context.Context, string, float64) ([]float64, error) {
	if f.sceneErr != nil {
		return nil, f.sceneErr
	}
	return []float64{0.9}, nil
}

func (f *fakeTool) MeanVolume(context.Context, string) (float64, float64, error) {
	return -20, -3, f.volumeErr
}

func TestAnalyzeRunsAllAnalysesAndCleansUp(t *testing.T) {
	tool := &fakeTool{
		probe:    media.ProbeInfo{Duration: 2, HasAudio: true, SampleRate: 48000},
		silences: []models.SilenceSpan{{Start: 0, End: 1, Duration: 1}},
	}
	a := NewAnalyzer(tool, Options{WorkDir: t.TempDir(), WaveformPoints: 100}, zerolog.Nop())
	got, err := a.Analyze(context.Background(), "/in.mp4")
	require.NoError(t, err)

	require.InDelta(t, 0.1, got.AverageEnergy, 1e-9)
	require.Len(t, got.Envelope, 4)
	require.Equal(t, tool.silences, got.Silences)
	require.Equal(t, []models.SceneCut{{Timestamp: 0.9}}, got.SceneCuts)
	require.Len(t, got.Waveform, 100)
	require.Empty(t, got.Degraded)

	require.Len(t, tool.workDirs, 1)
	_, statErr := os.Stat(tool.workDirs[0])
	require.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeSceneFailureDegrades(t *testing.T) {
	tool := &fakeTool{
		probe:     media.ProbeInfo{Duration: 2, HasAudio: true},
		sceneErr:  errors.New("decoder exploded"),
		volumeErr: errors.New("volumedetect missing"),
	}
	a := NewAnalyzer(tool, Options{WorkDir: t.TempDir()}, zerolog.Nop())
	got, err := a.Analyze(context.Background(), "/in.mp4")
	require.NoError(t, err)
	require.Empty(t, got.SceneCuts)
	require.ElementsMatch(t, []string{"scenes", "volume"}, got.Degraded)
	require.Greater(t, got.AverageEnergy, 0.0)
}

func TestAnalyzeAudioExtractionFailureIsFatal(t *testing.T) {
	tool := &fakeTool{
		probe:      media.ProbeInfo{Duration: 2, HasAudio: true},
		extractErr: errors.New("no decoder"),
	}
	a := NewAnalyzer(tool, Options{WorkDir: t.TempDir()}, zerolog.Nop())
	_, err := a.Analyze(context.Background(), "/in.mp4")
	require.Error(t, err)
	_, statErr := os.Stat(tool.workDirs[0])
	require.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeWithoutAudioIsInvalidMedia(t *testing.T) {
	a := NewAnalyzer(&fakeTool{probe: media.ProbeInfo{Duration: 2}}, Options{}, zerolog.Nop())
	_, err := a.Analyze(context.Background(), "/in.mp4")
	require.ErrorIs(t, err, util.ErrInvalidMedia)
}

func TestPeaksUseRollingAverageOfPreviousFive(t *testing.T) {
	env := []float64{1, 1, 1, 1, 1, 2, 1, 1, 1, 1, 1.9, 1.7}
	peaks := Peaks(env, 0.5)
	require.Equal(t, []models.EnergyPeak{
		{Timestamp: 2.5, Energy: 2},
		{Timestamp: 5.0, Energy: 1.9},
	}, peaks)
	require.Empty(t, Peaks([]float64{0, 0, 0, 5}, 0.5))
}

func TestWaveformBucketsKeepAbsoluteMax(t *testing.T) {
	got := Waveform([]float64{0.1, -0.9, 0.2, 0.3, -0.4}, 2)
	require.Equal(t, []float64{0.9, 0.4}, got)
	require.Equal(t, []float64{}, Waveform(nil, 10))
}

func TestSegmentFeatures(t *testing.T) {
	f := models.MediaFeatures{
		EnergyWindow: 1,
		Envelope:     []float64{0.1, 0.1, 0.2, 0.4, 0.4, 0.1},
		Silences:     []models.SilenceSpan{{Start: 2, End: 4, Duration: 2}},
		SceneCuts:    []models.SceneCut{{Timestamp: 1.5}, {Timestamp: 9}},
		Peaks:        []models.EnergyPeak{{Timestamp: 3, Energy: 0.4}},
	}
	inside := SegmentFeatures(f, 2, 3, 1)
	require.InDelta(t, 1.0, inside.SilenceRatio, 1e-9)
	require.False(t, inside.AfterSilence)
	require.False(t, inside.OverlapsPeak)
	require.Equal(t, 1, inside.SceneCutCount)
	require.InDelta(t, 0.2, inside.EnergyAvg, 1e-9)

	after := SegmentFeatures(f, 4, 6, 1)
	require.True(t, after.AfterSilence)
	require.False(t, after.OverlapsPeak)
	require.Zero(t, after.SilenceRatio)

	peak := SegmentFeatures(f, 2.5, 5, 1)
	require.True(t, peak.OverlapsPeak)
	require.InDelta(t, 1.5/2.5, peak.SilenceRatio, 1e-9)
}

func wav(samples []int16, rate int) []byte {
	var data bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&data, binary.LittleEndian, s)
	}
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+data.Len()))
	b.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(1), uint32(rate), uint32(rate * 2), uint16(2), uint16(16)} {
		_ = binary.Write(&b, binary.LittleEndian, v)
	}
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(data.Len()))
	b.Write(data.Bytes())
	return b.Bytes()
}
