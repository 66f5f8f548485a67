package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/capture"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/transcription"
)

// Transcriber uploads an encoded recording
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (*transcription.Response, error)
}

// Callbacks are invoked without the manager lock held, one at a time and
// in the order the underlying transitions happened. A callback may read
// State or GetStats but must not call Start, Stop or Close.
type Callbacks struct {
	// OnTranscription receives the transcript, at most once per Stop. It
	// runs before observers see the Transcribing → Idle transition.
	OnTranscription func(text string)

	// OnError receives every reported failure, including ErrEmptyCapture
	OnError func(err error)

	// OnStateChange observes every state transition
	OnStateChange func(from, to State)
}

// ManagerConfig contains configuration for the recording manager
type ManagerConfig struct {
	Format      capture.Format
	NewSource   capture.Factory
	Transcriber Transcriber
	Callbacks   Callbacks
}

// Outcome describes one finished Stop cycle
type Outcome struct {
	SessionID  string        `json:"session_id"`
	Samples    int           `json:"samples"`
	Level      audio.Level   `json:"level"`
	Silent     bool          `json:"silent"`
	Duration   time.Duration `json:"duration"`
	WAVBytes   int           `json:"wav_bytes"`
	Transcript string        `json:"transcript,omitempty"`
	Found      bool          `json:"found"`
}

// Stats represents manager statistics
type Stats struct {
	State              State        `json:"state"`
	RecordingsStarted  uint64       `json:"recordings_started"`
	Transcriptions     uint64       `json:"transcriptions"`
	EmptyResults       uint64       `json:"empty_results"`
	EmptyCaptures      uint64       `json:"empty_captures"`
	CaptureFailures    uint64       `json:"capture_failures"`
	UploadFailures     uint64       `json:"upload_failures"`
	RejectedStarts     uint64       `json:"rejected_starts"`
	Current            *SessionInfo `json:"current,omitempty"`
	LastTranscript     string       `json:"last_transcript,omitempty"`
	LastTranscriptTime time.Time    `json:"last_transcript_time,omitempty"`
}

type transition struct {
	from, to State
}

// Manager drives the Idle → Recording → Transcribing → Idle state machine.
// At most one Session is live, and Start is refused while an upload is pending.
// Source acquire and release run outside mu; starting and stopping mark the
// window in which they are in flight.
type Manager struct {
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	state    State
	current  *Session
	starting bool
	stopping bool
	stats    Stats

	// Deliveries are numbered under mu and run strictly in that order
	nextTicket uint64
	mu         sync.Mutex

	turn     uint64
	turnMu   sync.Mutex
	turnCond *sync.Cond
}

// NewManager creates a recording manager. A nil m gets a private registry.
func NewManager(logger *slog.Logger, m *metrics.Metrics, config ManagerConfig) (*Manager, error) {
	if config.NewSource == nil {
		return nil, fmt.Errorf("source factory cannot be nil")
	}

	if config.Transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if config.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.Format.SampleRate)
	}

	if config.Format.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", config.Format.FrameSize)
	}

	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	mgr := &Manager{
		config:  config,
		logger:  logger,
		metrics: m,
		state:   StateIdle,
	}
	mgr.turnCond = sync.NewCond(&mgr.turnMu)
	m.SetSessionState(StateIdle.String(), stateNames())

	return mgr, nil
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins a new recording with a fresh Session
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()

	switch {
	case m.starting || m.stopping:
		return m.rejectLocked("transition in progress", ErrBusy)
	case m.state == StateRecording:
		return m.rejectLocked("already recording", ErrAlreadyRecording)
	case m.state != StateIdle:
		return m.rejectLocked("previous recording still pending", ErrBusy)
	}

	m.starting = true
	m.mu.Unlock()

	sess := newSession(m.config.NewSource(), m.config.Format.SampleRate)
	err := sess.acquire(ctx, func(frame audio.Frame) {
		m.metrics.RecordFrame(len(frame), audio.MeasureLevel(frame).RMSDBFS())
	})

	m.mu.Lock()
	m.starting = false

	if err != nil {
		m.stats.CaptureFailures++
		t := m.setStateLocked(StateError)
		m.unlockAndDeliver(func() {
			m.notify(t)
			m.metrics.RecordCaptureFailure(captureFailureReason(err))
			m.report(fmt.Errorf("start recording: %w", err))
		})
		m.transition(StateIdle)
		return err
	}

	m.current = sess
	m.stats.RecordingsStarted++
	t := m.setStateLocked(StateRecording)
	m.unlockAndDeliver(func() {
		m.notify(t)
	})

	m.metrics.RecordRecordingStarted()
	m.logger.Info("Recording started",
		slog.String("session_id", sess.ID),
		slog.Int("sample_rate", m.config.Format.SampleRate),
		slog.Int("frame_size", m.config.Format.FrameSize),
	)

	return nil
}

// rejectLocked refuses a Start; caller holds m.mu, which is released
func (m *Manager) rejectLocked(reason string, err error) error {
	state := m.state
	m.stats.RejectedStarts++
	m.mu.Unlock()

	m.metrics.RecordRecordingRejected(state.String())
	if !errors.Is(err, ErrAlreadyRecording) {
		m.logger.Warn("Start rejected",
			slog.String("state", state.String()),
			slog.String("reason", reason),
		)
	}
	return err
}

// Stop ends the live recording, encodes it and uploads it for transcription.
// The upload runs synchronously; Start returns ErrBusy until it resolves.
func (m *Manager) Stop(ctx context.Context) (Outcome, error) {
	sess, err := m.detach()
	if err != nil {
		return Outcome{}, err
	}

	// Release must finish before the buffer is read
	if err := sess.release(); err != nil {
		m.logger.Warn("Error releasing capture source",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}

	samples := sess.buffer.Flatten()
	level := sess.buffer.Level()
	outcome := Outcome{
		SessionID: sess.ID,
		Samples:   len(samples),
		Level:     level,
		Silent:    level.Silent(),
		Duration:  audio.SamplesToDuration(len(samples), m.config.Format.SampleRate),
	}

	m.mu.Lock()
	m.stopping = false

	if len(samples) == 0 {
		m.stats.EmptyCaptures++
		t := m.setStateLocked(StateIdle)
		m.unlockAndDeliver(func() {
			m.notify(t)
			m.metrics.RecordEmptyCapture()
			m.report(ErrEmptyCapture)
		})
		return outcome, ErrEmptyCapture
	}

	t := m.setStateLocked(StateTranscribing)
	m.unlockAndDeliver(func() {
		m.notify(t)
	})

	wavData := audio.EncodeWAV(samples, m.config.Format.SampleRate)
	outcome.WAVBytes = len(wavData)
	m.metrics.RecordRecordingStopped(outcome.Duration.Seconds(), len(wavData))

	m.logger.Info("Recording stopped, uploading",
		slog.String("session_id", sess.ID),
		slog.Int("samples", len(samples)),
		slog.Duration("duration", outcome.Duration),
		slog.Int("wav_bytes", len(wavData)),
		slog.Float64("peak_dbfs", level.PeakDBFS()),
	)

	// Still uploaded; the service decides what silence means
	if outcome.Silent {
		m.metrics.RecordSilentRecording()
		m.logger.Warn("Recording appears silent, check the input device",
			slog.String("session_id", sess.ID),
			slog.Float64("peak_dbfs", level.PeakDBFS()),
		)
	}

	m.metrics.RecordTranscriptionRequest()
	uploadStart := time.Now()
	resp, err := m.config.Transcriber.Transcribe(ctx, wavData)
	elapsed := time.Since(uploadStart)

	if err != nil {
		m.metrics.RecordTranscriptionFailure(elapsed.Seconds())

		m.mu.Lock()
		m.stats.UploadFailures++
		t := m.setStateLocked(StateError)
		m.unlockAndDeliver(func() {
			m.notify(t)
			m.report(fmt.Errorf("transcribe recording %s: %w", sess.ID, err))
		})
		m.transition(StateIdle)
		return outcome, err
	}

	text, found := resp.Transcript()
	m.metrics.RecordTranscriptionSuccess(elapsed.Seconds(), found)
	if found {
		outcome.Transcript = text
		outcome.Found = true
	}

	m.mu.Lock()
	if found {
		m.stats.Transcriptions++
		m.stats.LastTranscript = text
		m.stats.LastTranscriptTime = time.Now()
	} else {
		m.stats.EmptyResults++
	}
	t = m.setStateLocked(StateIdle)
	m.unlockAndDeliver(func() {
		if cb := m.config.Callbacks.OnTranscription; found && cb != nil {
			cb(text)
		}
		m.notify(t)
	})

	m.logger.Info("Transcription completed",
		slog.String("session_id", sess.ID),
		slog.Bool("found", found),
		slog.Int("transcript_length", len(text)),
		slog.Duration("upload_time", elapsed),
	)

	return outcome, nil
}

// detach takes the live session out of the manager and marks it stopping
func (m *Manager) detach() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecording || m.stopping {
		return nil, fmt.Errorf("%w (state %s)", ErrNotRecording, m.state)
	}

	sess := m.current
	m.current = nil
	m.stopping = true
	return sess, nil
}

// Close releases a live recording without transcribing it
func (m *Manager) Close() error {
	sess, err := m.detach()
	if err != nil {
		return nil
	}

	err = sess.release()

	m.mu.Lock()
	m.stopping = false
	t := m.setStateLocked(StateIdle)
	m.unlockAndDeliver(func() {
		m.notify(t)
	})

	m.logger.Info("Recording discarded on close",
		slog.String("session_id", sess.ID),
		slog.Int("samples", sess.buffer.Len()),
	)

	return err
}

// GetStats returns current manager statistics
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.State = m.state
	if m.current != nil {
		info := m.current.Info()
		stats.Current = &info
	}
	return stats
}

// setStateLocked switches state; caller holds m.mu and passes the result to notify
func (m *Manager) setStateLocked(to State) transition {
	t := transition{from: m.state, to: to}
	m.state = to
	return t
}

// transition switches state and notifies observers
func (m *Manager) transition(to State) {
	m.mu.Lock()
	t := m.setStateLocked(to)
	m.unlockAndDeliver(func() {
		m.notify(t)
	})
}

// unlockAndDeliver releases m.mu and runs deliver once every delivery
// queued before it has finished. Caller holds m.mu.
func (m *Manager) unlockAndDeliver(deliver func()) {
	ticket := m.nextTicket
	m.nextTicket++
	m.mu.Unlock()

	m.turnMu.Lock()
	for m.turn != ticket {
		m.turnCond.Wait()
	}
	m.turnMu.Unlock()

	defer func() {
		m.turnMu.Lock()
		m.turn++
		m.turnCond.Broadcast()
		m.turnMu.Unlock()
	}()

	deliver()
}

func (m *Manager) notify(t transition) {
	if t.from == t.to {
		return
	}

	m.metrics.SetSessionState(t.to.String(), stateNames())
	m.logger.Debug("Session state changed",
		slog.String("from", t.from.String()),
		slog.String("to", t.to.String()),
	)

	if cb := m.config.Callbacks.OnStateChange; cb != nil {
		cb(t.from, t.to)
	}
}

// report logs err and forwards it to the OnError callback
func (m *Manager) report(err error) {
	if errors.Is(err, ErrEmptyCapture) {
		m.logger.Warn("Recording stopped without audio")
	} else {
		m.logger.Error("Recording failed", slog.String("error", err.Error()))
	}

	if cb := m.config.Callbacks.OnError; cb != nil {
		cb(err)
	}
}

func captureFailureReason(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
