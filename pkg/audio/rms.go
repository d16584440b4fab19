package audio

import "math"

// RMS computes the root-mean-square amplitude of a block of normalised
// samples. Used as a lightweight voice-activity heuristic: a frame whose RMS
// exceeds the configured energy threshold is classified as speech.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
