package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"highlightflow/internal/models"
)

const AnalysisSampleRate = 16000

// ExtractAudio writes a 16 kHz mono pcm_s16le WAV of the input's first audio
// stream into dir and returns its path.
func (t *Tool) ExtractAudio(ctx context.Context, input, dir string) (string, error) {
	out := filepath.Join(dir, "audio.wav")
	t.logger.Info().Str("input", input).Str("output", out).Msg("extracting audio")
	if _, err := t.ffmpeg(ctx,
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(AnalysisSampleRate),
		"-ac", "1",
		out,
	); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return out, nil
}

// DetectSilence finds spans quieter than thresholdDb lasting at least minDuration seconds.
func (t *Tool) DetectSilence(ctx context.Context, audioPath string, thresholdDb, minDuration float64) ([]models.SilenceSpan, error) {
	out, err := t.ffmpeg(ctx,
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=%.2fdB:d=%.3f", thresholdDb, minDuration),
		"-f", "null",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("silence detection: %w", err)
	}
	spans := parseSilenceOutput(out)
	t.logger.Debug().Int("spans", len(spans)).Msg("silence detection complete")
	return spans, nil
}

func parseSilenceOutput(output string) []models.SilenceSpan {
	spans := make([]models.SilenceSpan, 0)
	start := -1.0
	for _, line := range strings.Split(output, "\n") {
		if v, ok := fieldAfter(line, "silence_start:"); ok {
			start = v
			continue
		}
		end, ok := fieldAfter(line, "silence_end:")
		if !ok || start < 0 {
			continue
		}
		dur, ok := fieldAfter(line, "silence_duration:")
		if !ok {
			dur = end - start
		}
		if end > start {
			spans = append(spans, models.SilenceSpan{Start: start, End: end, Duration: dur})
		}
		start = -1
	}
	return spans
}

// MeanVolume returns the mean and max volume in dBFS.
func (t *Tool) MeanVolume(ctx context.Context, audioPath string) (float64, float64, error) {
	out, err := t.ffmpeg(ctx, "-i", audioPath, "-af", "volumedetect", "-f", "null", "-")
	if err != nil {
		return 0, 0, fmt.Errorf("volume analysis: %w", err)
	}
	mean, okMean := fieldAfter(out, "mean_volume:")
	peak, okMax := fieldAfter(out, "max_volume:")
	if !okMean || !okMax {
		return 0, 0, fmt.Errorf("volume analysis produced no statistics")
	}
	return mean, peak, nil
}

// fieldAfter parses the float that follows marker on the first line containing it.
func fieldAfter(text, marker string) (float64, bool) {
	i := strings.Index(text, marker)
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(text[i+len(marker):])
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "dB"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReadPCM16 decodes a 16-bit PCM WAV file into mono samples in [-1,1].
func ReadPCM16(path string) ([]float64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read wav: %w", err)
	}
	return decodePCM16(data)
}

func decodePCM16(data []byte) ([]float64, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	var (
		channels   int
		sampleRate int
		bits       int
		format     int
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			if format != 1 || bits != 16 || channels <= 0 {
				return nil, 0, fmt.Errorf("unsupported wav encoding format=%d bits=%d channels=%d", format, bits, channels)
			}
			frame := 2 * channels
			n := size / frame
			out := make([]float64, n)
			for i := 0; i < n; i++ {
				var sum float64
				for c := 0; c < channels; c++ {
					off := body + i*frame + c*2
					sum += float64(int16(binary.LittleEndian.Uint16(data[off:off+2]))) / 32768.0
				}
				out[i] = sum / float64(channels)
			}
			return out, sampleRate, nil
		}
		pos = body + size + size%2
	}
	return nil, 0, fmt.Errorf("wav data chunk not found")
}
