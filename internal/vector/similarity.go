package vector

import (
	"math"
	"sort"
)

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero
// magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopMean is the mean of the n largest values, or of all values when fewer than n.
func TopMean(values []float64, n int) float64 {
	if len(values) == 0 || n <= 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if n > len(sorted) {
		n = len(sorted)
	}
	var sum float64
	for _, v := range sorted[:n] {
		sum += v
	}
	return sum / float64(n)
}
