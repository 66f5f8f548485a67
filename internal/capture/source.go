package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skypro1111/voicecap/internal/audio"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses access to the input device
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
)

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096 // 256ms at 16kHz
)

// Format describes the mono stream a Source delivers
type Format struct {
	SampleRate int
	FrameSize  int // samples per frame
}

// DefaultFormat returns the 16kHz / 4096-sample format
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, FrameSize: DefaultFrameSize}
}

// FrameInterval returns the expected time between two frames
func (f Format) FrameInterval() time.Duration {
	return audio.SamplesToDuration(f.FrameSize, f.SampleRate)
}

// Consumer receives captured frames in capture order. The frame is owned by
// the consumer once delivered.
type Consumer func(frame audio.Frame)

// Source is a push-style mono audio input.
//
// Acquire opens the device, binds consume and starts delivery. On failure no
// frames are produced and nothing stays held. Release stops delivery and frees
// the device; it is idempotent, and consume is never invoked after Release
// returns.
type Source interface {
	Acquire(ctx context.Context, consume Consumer) error
	Release() error
}

// Factory creates a fresh Source for each recording
type Factory func() Source

// Gate forwards frames to a consumer until it is closed
type Gate struct {
	consume Consumer
	closed  bool
	frames  uint64
	mu      sync.Mutex
}

// NewGate wraps consume
func NewGate(consume Consumer) *Gate {
	return &Gate{consume: consume}
}

// Deliver hands frame to the consumer unless the gate is closed.
// It reports whether the frame was delivered.
func (g *Gate) Deliver(frame audio.Frame) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.consume == nil {
		return false
	}
	g.consume(frame)
	g.frames++
	return true
}

// Close stops delivery. Once Close returns no Deliver call is running and
// none will reach the consumer again.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// Delivered returns the number of frames handed to the consumer
func (g *Gate) Delivered() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frames
}
