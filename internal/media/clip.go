package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// CutClip re-encodes [start,end) of input into an mp4 inside dir and returns its path.
func (t *Tool) CutClip(ctx context.Context, input string, start, end float64, dir string) (string, error) {
	if end <= start {
		return "", fmt.Errorf("cut clip: end %.3f must be after start %.3f", end, start)
	}
	out := filepath.Join(dir, fmt.Sprintf("clip-%09.3f-%09.3f.mp4", start, end))
	t.logger.Info().Str("input", input).Float64("start", start).Float64("end", end).Msg("cutting clip")
	if _, err := t.ffmpeg(ctx,
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(end-start),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-c:a", "aac",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return "", fmt.Errorf("cut clip: %w", err)
	}
	return out, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
