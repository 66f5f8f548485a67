package audio

import (
	"sync"
	"time"
)

// Frame is one block of consecutive mono samples delivered together by the
// capture device. Values are nominally in [-1, 1].
type Frame []float32

// SampleBuffer accumulates captured frames in arrival order
type SampleBuffer struct {
	sampleRate int

	frames  []Frame
	samples int // Sum of frame lengths

	peak       float64
	sumSquares float64

	firstFrame time.Time
	lastFrame  time.Time

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Frames     int           `json:"frames"`
	Samples    int           `json:"samples"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Level      Level         `json:"level"`
	FirstFrame time.Time     `json:"first_frame,omitempty"`
	LastFrame  time.Time     `json:"last_frame,omitempty"`
}

// NewSampleBuffer creates an empty buffer for audio at the given sample rate
func NewSampleBuffer(sampleRate int) *SampleBuffer {
	return &SampleBuffer{
		sampleRate: sampleRate,
		frames:     make([]Frame, 0, 64), // ~16s of 4096-sample frames at 16kHz
	}
}

// Append adds a frame after all previously appended frames. The buffer keeps
// the slice as-is; callers must not reuse it.
func (b *SampleBuffer) Append(frame Frame) {
	if len(frame) == 0 {
		return
	}

	peak, sumSquares := accumulateLevel(frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if len(b.frames) == 0 {
		b.firstFrame = now
	}
	b.lastFrame = now

	b.frames = append(b.frames, frame)
	b.samples += len(frame)

	if peak > b.peak {
		b.peak = peak
	}
	b.sumSquares += sumSquares
}

// Flatten concatenates all frames in append order into one new slice.
// An empty buffer yields a non-nil zero-length slice.
func (b *SampleBuffer) Flatten() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float32, b.samples)
	offset := 0
	for _, frame := range b.frames {
		offset += copy(out[offset:], frame)
	}

	return out
}

// Reset drops all buffered frames
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = b.frames[:0]
	b.samples = 0
	b.peak = 0
	b.sumSquares = 0
	b.firstFrame = time.Time{}
	b.lastFrame = time.Time{}
}

// Len returns the total number of buffered samples
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

// Frames returns the number of buffered frames
func (b *SampleBuffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// SampleRate returns the sample rate the buffer was created for
func (b *SampleBuffer) SampleRate() int {
	return b.sampleRate
}

// Duration returns the audio length represented by the buffered samples
func (b *SampleBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return SamplesToDuration(b.samples, b.sampleRate)
}

// Level returns the loudness of everything buffered so far
func (b *SampleBuffer) Level() Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return newLevel(b.peak, b.sumSquares, b.samples)
}

// GetStats returns current buffer statistics
func (b *SampleBuffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		Frames:     len(b.frames),
		Samples:    b.samples,
		SampleRate: b.sampleRate,
		Duration:   SamplesToDuration(b.samples, b.sampleRate),
		Level:      newLevel(b.peak, b.sumSquares, b.samples),
		FirstFrame: b.firstFrame,
		LastFrame:  b.lastFrame,
	}
}

// SamplesToDuration converts a sample count at sampleRate to wall-clock time
func SamplesToDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
