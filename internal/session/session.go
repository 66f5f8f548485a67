package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/capture"
)

// Session is a single recording. It exclusively owns the capture source
// handle and the sample buffer; both die with it.
type Session struct {
	ID string

	startTime time.Time

	source capture.Source
	buffer *audio.SampleBuffer

	acquired bool
	released bool
	mu       sync.Mutex
}

// SessionInfo represents a recording snapshot for monitoring
type SessionInfo struct {
	ID        string        `json:"id"`
	StartTime time.Time     `json:"start_time"`
	Elapsed   time.Duration `json:"elapsed"`
	Frames    int           `json:"frames"`
	Samples   int           `json:"samples"`
	Audio     time.Duration `json:"audio_duration"`
	Level     audio.Level   `json:"level"`
}

func newSession(source capture.Source, sampleRate int) *Session {
	return &Session{
		ID:     uuid.NewString(),
		source: source,
		buffer: audio.NewSampleBuffer(sampleRate),
	}
}

// acquire starts the source with the session buffer as consumer. onFrame is
// called after each append and must not block on the manager.
func (s *Session) acquire(ctx context.Context, onFrame func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.source.Acquire(ctx, func(frame audio.Frame) {
		s.buffer.Append(frame)
		if onFrame != nil {
			onFrame(frame)
		}
	})
	if err != nil {
		return err
	}

	s.acquired = true
	s.startTime = time.Now()
	return nil
}

// release stops frame delivery. Safe to call any number of times.
func (s *Session) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acquired || s.released {
		return nil
	}
	s.released = true
	return s.source.Release()
}

// Info returns a snapshot of the recording
func (s *Session) Info() SessionInfo {
	stats := s.buffer.GetStats()

	s.mu.Lock()
	start := s.startTime
	s.mu.Unlock()

	return SessionInfo{
		ID:        s.ID,
		StartTime: start,
		Elapsed:   time.Since(start),
		Frames:    stats.Frames,
		Samples:   stats.Samples,
		Audio:     stats.Duration,
		Level:     stats.Level,
	}
}
