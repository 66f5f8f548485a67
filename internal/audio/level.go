package audio

import "math"

const (
	// MinDBFS is the floor reported for digital silence
	MinDBFS = -120.0

	// SilenceThresholdDBFS is the peak level below which a recording is
	// considered silent, e.g. a muted or disconnected microphone
	SilenceThresholdDBFS = -60.0
)

// Level summarizes the loudness of a block of samples
type Level struct {
	Peak float64 `json:"peak"` // Largest absolute sample, clamped to 1
	RMS  float64 `json:"rms"`
}

// MeasureLevel computes the peak and RMS amplitude of samples.
// NaN samples count as silence and values are clamped to [-1, 1].
func MeasureLevel(samples []float32) Level {
	peak, sumSquares := accumulateLevel(samples)
	return newLevel(peak, sumSquares, len(samples))
}

func accumulateLevel(samples []float32) (peak, sumSquares float64) {
	for _, s := range samples {
		v := math.Abs(float64(s))
		if math.IsNaN(v) {
			continue
		}
		if v > 1 {
			v = 1
		}
		if v > peak {
			peak = v
		}
		sumSquares += v * v
	}
	return peak, sumSquares
}

func newLevel(peak, sumSquares float64, n int) Level {
	if n == 0 {
		return Level{}
	}
	return Level{Peak: peak, RMS: math.Sqrt(sumSquares / float64(n))}
}

// PeakDBFS returns the peak level in dBFS
func (l Level) PeakDBFS() float64 {
	return DBFS(l.Peak)
}

// RMSDBFS returns the RMS level in dBFS
func (l Level) RMSDBFS() float64 {
	return DBFS(l.RMS)
}

// Silent reports whether the peak stays below SilenceThresholdDBFS
func (l Level) Silent() bool {
	return l.PeakDBFS() < SilenceThresholdDBFS
}

// DBFS converts a linear amplitude to decibels relative to full scale,
// never lower than MinDBFS.
func DBFS(amplitude float64) float64 {
	if amplitude <= 0 || math.IsNaN(amplitude) {
		return MinDBFS
	}
	db := 20 * math.Log10(amplitude)
	if db < MinDBFS {
		return MinDBFS
	}
	return db
}
