// Package portaudio captures microphone audio through the PortAudio host
// library and exposes it as a capture.Source.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/capture"
)

// Source is a mono float32 callback stream on the default input device.
// PortAudio is initialized on Acquire and terminated on Release so every
// recording owns its host context.
type Source struct {
	format capture.Format
	logger *slog.Logger

	initialized bool
	stream      *pa.Stream
	gate        *capture.Gate

	mu sync.Mutex
}

// NewSource creates a microphone source for format
func NewSource(format capture.Format, logger *slog.Logger) *Source {
	return &Source{format: format, logger: logger}
}

// Factory returns a capture.Factory producing a microphone Source per recording
func Factory(format capture.Format, logger *slog.Logger) capture.Factory {
	return func() capture.Source {
		return NewSource(format, logger)
	}
}

// Acquire opens the default input device and starts the callback stream
func (s *Source) Acquire(ctx context.Context, consume capture.Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return fmt.Errorf("microphone source already acquired")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio init: %v", capture.ErrDeviceUnavailable, err)
	}
	s.initialized = true

	device, err := pa.DefaultInputDevice()
	if err != nil || device == nil || device.MaxInputChannels < 1 {
		s.teardown()
		return fmt.Errorf("%w: no default input device", capture.ErrDeviceUnavailable)
	}

	gate := capture.NewGate(consume)
	callback := func(in []float32) {
		// PortAudio reuses in between callbacks
		frame := make(audio.Frame, len(in))
		copy(frame, in)
		gate.Deliver(frame)
	}

	stream, err := pa.OpenDefaultStream(1, 0, float64(s.format.SampleRate), s.format.FrameSize, callback)
	if err != nil {
		s.teardown()
		return classify("open input stream", err)
	}
	s.stream = stream
	s.gate = gate

	// Streams open stopped; start explicitly so delivery actually begins
	if err := stream.Start(); err != nil {
		s.teardown()
		return classify("start input stream", err)
	}

	s.logger.Info("Microphone acquired",
		slog.String("device", device.Name),
		slog.Int("sample_rate", s.format.SampleRate),
		slog.Int("frame_size", s.format.FrameSize),
	)

	return nil
}

// Release closes the gate, stops and closes the stream and terminates PortAudio
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	var frames uint64
	if s.gate != nil {
		frames = s.gate.Delivered()
	}

	err := s.teardown()
	if err != nil {
		s.logger.Warn("Error releasing microphone", slog.String("error", err.Error()))
	} else {
		s.logger.Info("Microphone released", slog.Uint64("frames_delivered", frames))
	}

	return err
}

// teardown releases whatever Acquire managed to set up. Caller holds s.mu.
func (s *Source) teardown() error {
	var errs []error

	if s.gate != nil {
		s.gate.Close()
		s.gate = nil
	}

	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
		s.stream = nil
	}

	if s.initialized {
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate: %w", err))
		}
		s.initialized = false
	}

	return errors.Join(errs...)
}

// classify maps PortAudio failures onto the capture error taxonomy. Device
// and format errors mean the input is unusable; any other host failure at
// open/start time is how OS privacy controls surface through PortAudio.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, pa.DeviceUnavailable),
		errors.Is(err, pa.NoDefaultInputDevice),
		errors.Is(err, pa.InvalidDevice),
		errors.Is(err, pa.InvalidChannelCount),
		errors.Is(err, pa.InvalidSampleRate):
		return fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", capture.ErrPermissionDenied, op, err)
	}
}
