package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/skypro1111/voicecap/internal/audio"
)

// FileSource replays a mono WAV file through the Source contract, one frame
// per FrameInterval when realtime is set, otherwise as fast as the consumer
// accepts them.
type FileSource struct {
	path     string
	format   Format
	realtime bool
	logger   *slog.Logger

	gate   *Gate
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

// NewFileSource creates a source reading path
func NewFileSource(path string, format Format, realtime bool, logger *slog.Logger) *FileSource {
	return &FileSource{
		path:     path,
		format:   format,
		realtime: realtime,
		logger:   logger,
	}
}

// FileFactory returns a Factory producing a FileSource per recording
func FileFactory(path string, format Format, realtime bool, logger *slog.Logger) Factory {
	return func() Source {
		return NewFileSource(path, format, realtime, logger)
	}
}

// Acquire loads the file and starts frame delivery
func (s *FileSource) Acquire(ctx context.Context, consume Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return fmt.Errorf("file source %s already acquired", s.path)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	samples, err := s.load()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.gate = NewGate(consume)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, samples, s.gate, s.done)

	s.logger.Debug("File source acquired",
		slog.String("path", s.path),
		slog.Int("samples", len(samples)),
		slog.Bool("realtime", s.realtime),
	)

	return nil
}

// Release stops the replay goroutine and waits for it to exit
func (s *FileSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.gate.Close()
	s.cancel()
	<-s.done

	s.logger.Debug("File source released",
		slog.String("path", s.path),
		slog.Uint64("frames_delivered", s.gate.Delivered()),
	)

	s.cancel = nil
	return nil
}

// load decodes the whole file into normalized float samples
func (s *FileSource) load() ([]float32, error) {
	f, err := os.Open(s.path)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrDeviceUnavailable, s.path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrDeviceUnavailable, s.path, err)
	}

	if dec.NumChans != 1 {
		return nil, fmt.Errorf("%w: %s has %d channels, need mono", ErrDeviceUnavailable, s.path, dec.NumChans)
	}

	if int(dec.SampleRate) != s.format.SampleRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, need %d Hz",
			ErrDeviceUnavailable, s.path, dec.SampleRate, s.format.SampleRate)
	}

	if dec.BitDepth < 16 || dec.BitDepth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d in %s", ErrDeviceUnavailable, dec.BitDepth, s.path)
	}

	scale := float32(int64(1) << (dec.BitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	return samples, nil
}

func (s *FileSource) run(ctx context.Context, samples []float32, gate *Gate, done chan struct{}) {
	defer close(done)

	frameSize := s.format.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.format.FrameInterval())
		defer ticker.Stop()
	}

	for offset := 0; offset < len(samples); offset += frameSize {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		end := offset + frameSize
		if end > len(samples) {
			end = len(samples)
		}

		frame := make(audio.Frame, end-offset)
		copy(frame, samples[offset:end])
		if !gate.Deliver(frame) {
			return
		}
	}
}
