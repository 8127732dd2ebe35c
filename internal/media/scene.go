package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DetectSceneCuts returns timestamps, in seconds, where the perceptual frame
// difference exceeds sensitivity (0..1).
func (t *Tool) DetectSceneCuts(ctx context.Context, path string, sensitivity float64) ([]float64, error) {
	out, err := t.ffmpeg(ctx,
		"-i", path,
		"-an",
		"-vf", fmt.Sprintf("select='gt(scene,%f)',showinfo", sensitivity),
		"-f", "null",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("scene detection: %w", err)
	}
	cuts := parseSceneOutput(out)
	t.logger.Debug().Int("cuts", len(cuts)).Msg("scene detection complete")
	return cuts, nil
}

func parseSceneOutput(output string) []float64 {
	cuts := make([]float64, 0)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "pts_time:") {
			continue
		}
		parts := strings.SplitN(line, "pts_time:", 2)
		fields := strings.Fields(parts[1])
		if len(fields) == 0 {
			continue
		}
		if sec, err := strconv.ParseFloat(fields[0], 64); err == nil {
			cuts = append(cuts, sec)
		}
	}
	return cuts
}
