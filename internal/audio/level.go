package audio

import "math"

// speechWindow is the number of samples per energy window (64 ms at 16 kHz).
const speechWindow = 1024

// RMS returns the root-mean-square level of the samples, normalized to
// the 0..1 range of 16-bit PCM.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NoiseFloor estimates the ambient noise level from the first n samples.
// A small absolute floor is enforced so that digital silence does not
// produce a zero threshold.
func NoiseFloor(samples []int16, n int) float64 {
	if n > len(samples) {
		n = len(samples)
	}
	floor := RMS(samples[:n])
	if floor < 0.001 {
		floor = 0.001
	}
	return floor
}

// HasSpeech reports whether any energy window after calibration rises
// above the noise floor by the given factor.
func HasSpeech(samples []int16, floor, factor float64) bool {
	threshold := floor * factor
	for start := 0; start < len(samples); start += speechWindow {
		end := start + speechWindow
		if end > len(samples) {
			end = len(samples)
		}
		if RMS(samples[start:end]) > threshold {
			return true
		}
	}
	return false
}
