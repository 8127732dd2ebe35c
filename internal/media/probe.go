package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"highlightflow/internal/util"
)

type ProbeInfo struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	HasAudio   bool    `json:"has_audio"`
	SampleRate int     `json:"sample_rate"`
}

// Probe reads container and stream metadata. Media that ffprobe cannot read,
// or that has no positive duration, is reported as ErrInvalidMedia.
func (t *Tool) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	if path == "" {
		return ProbeInfo{}, fmt.Errorf("probe: empty path: %w", util.ErrInvalidMedia)
	}
	out, err := t.ffprobe(ctx, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		if ctx.Err() != nil {
			return ProbeInfo{}, ctx.Err()
		}
		return ProbeInfo{}, fmt.Errorf("probe %s: %v: %w", path, err, util.ErrInvalidMedia)
	}
	info, err := parseProbeOutput([]byte(out))
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("probe %s: %v: %w", path, err, util.ErrInvalidMedia)
	}
	return info, nil
}

func parseProbeOutput(out []byte) (ProbeInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(out, &probe); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	var info ProbeInfo
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			info.HasAudio = true
			if sr, err := strconv.Atoi(s.SampleRate); err == nil && info.SampleRate == 0 {
				info.SampleRate = sr
			}
		}
	}
	if info.Duration <= 0 {
		return ProbeInfo{}, fmt.Errorf("no positive duration reported")
	}
	return info, nil
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}
