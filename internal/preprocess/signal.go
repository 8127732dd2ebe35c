package preprocess

import (
	"math"

	"highlightflow/internal/models"
)

const (
	peakLookback = 5
	peakFactor   = 1.5
	cutProximity = 1.0
)

// Envelope is the RMS energy of consecutive windows of windowSecs.
func Envelope(samples []float64, rate int, windowSecs float64) []float64 {
	size := int(float64(rate) * windowSecs)
	if size <= 0 {
		size = 1
	}
	out := make([]float64, 0, len(samples)/size+1)
	for i := 0; i < len(samples); i += size {
		end := i + size
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		for _, s := range samples[i:end] {
			sum += s * s
		}
		out = append(out, math.Sqrt(sum/float64(end-i)))
	}
	return out
}

// Peaks returns envelope samples exceeding 1.5x the average of the previous
// five samples. The first five samples have no full lookback and are never peaks.
func Peaks(envelope []float64, windowSecs float64) []models.EnergyPeak {
	out := make([]models.EnergyPeak, 0)
	for i := peakLookback; i < len(envelope); i++ {
		avg := meanOf(envelope[i-peakLookback : i])
		if envelope[i] > 0 && envelope[i] > peakFactor*avg {
			out = append(out, models.EnergyPeak{Timestamp: float64(i) * windowSecs, Energy: envelope[i]})
		}
	}
	return out
}

// Waveform down-samples to about points absolute amplitudes, keeping the
// maximum of each bucket.
func Waveform(samples []float64, points int) []float64 {
	if len(samples) == 0 || points <= 0 {
		return []float64{}
	}
	bucket := (len(samples) + points - 1) / points
	out := make([]float64, 0, points)
	for i := 0; i < len(samples); i += bucket {
		end := i + bucket
		if end > len(samples) {
			end = len(samples)
		}
		var peak float64
		for _, s := range samples[i:end] {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
		out = append(out, peak)
	}
	return out
}

// SegmentFeatures derives the signals local to [start,end). transitionWindow
// is how close a silence end must be to start to count as a silence-to-sound
// transition leading into the segment.
func SegmentFeatures(f models.MediaFeatures, start, end, transitionWindow float64) models.SegmentFeatures {
	var out models.SegmentFeatures
	dur := end - start
	if dur <= 0 {
		return out
	}

	if f.EnergyWindow > 0 && len(f.Envelope) > 0 {
		var sum float64
		var n int
		for i, e := range f.Envelope {
			ws := float64(i) * f.EnergyWindow
			if ws+f.EnergyWindow > start && ws < end {
				sum += e
				n++
			}
		}
		if n > 0 {
			out.EnergyAvg = sum / float64(n)
		}
	}

	for _, s := range f.Silences {
		out.SilenceSeconds += overlap(start, end, s.Start, s.End)
		if s.End >= start-transitionWindow && s.End <= start+transitionWindow && s.End < end {
			out.AfterSilence = true
		}
	}
	out.SilenceRatio = math.Min(1, out.SilenceSeconds/dur)

	for _, c := range f.SceneCuts {
		if c.Timestamp >= start-cutProximity && c.Timestamp <= end+cutProximity {
			out.SceneCutCount++
		}
	}
	for _, p := range f.Peaks {
		if p.Timestamp >= start && p.Timestamp < end {
			out.OverlapsPeak = true
			break
		}
	}
	return out
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	lo := math.Max(aStart, bStart)
	hi := math.Min(aEnd, bEnd)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
