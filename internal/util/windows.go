package util

// Window is a half-open time range in seconds.
type Window struct {
	Start float64
	End   float64
}

// TimeWindows splits [0,duration) into windows of size seconds, each
// overlapping the previous one by overlap seconds. A duration not longer
// than size yields a single window.
func TimeWindows(duration, size, overlap float64) []Window {
	if duration <= 0 {
		return nil
	}
	if size <= 0 || duration <= size {
		return []Window{{Start: 0, End: duration}}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap
	out := make([]Window, 0, int(duration/step)+1)
	for start := 0.0; start < duration; start += step {
		end := start + size
		if end > duration {
			end = duration
		}
		out = append(out, Window{Start: start, End: end})
		if end == duration {
			break
		}
	}
	return out
}
