package pe

import "math"

// Entropy thresholds used to classify section data.
const (
	EntropyPacked     = 7.0
	EntropyCompressed = 6.0
)

// CalculateEntropy returns the Shannon entropy of data in bits per byte,
// from 0 for a single repeated value to 8 for uniformly distributed bytes.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	var entropy float64
	n := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// EntropyLevel returns a short label for an entropy value.
func EntropyLevel(e float64) string {
	switch {
	case e >= EntropyPacked:
		return "高 (可能加壳/加密)"
	case e >= EntropyCompressed:
		return "中 (可能压缩)"
	default:
		return "正常"
	}
}
