package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice capture service
type Metrics struct {
	// Capture metrics
	FramesCaptured  prometheus.Counter
	SamplesCaptured prometheus.Counter
	CaptureFailures *prometheus.CounterVec
	InputLevel      prometheus.Gauge

	// Recording metrics
	RecordingsStarted  prometheus.Counter
	RecordingsRejected *prometheus.CounterVec
	EmptyCaptures      prometheus.Counter
	SilentRecordings   prometheus.Counter
	RecordingDuration  prometheus.Histogram
	SessionState       *prometheus.GaugeVec

	// Encoding metrics
	WAVSize prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionEmpty     prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_frames_captured_total",
			Help: "Total number of audio frames delivered by the capture source",
		}),
		SamplesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_samples_captured_total",
			Help: "Total number of audio samples delivered by the capture source",
		}),
		CaptureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_capture_failures_total",
			Help: "Total number of failed capture acquisitions",
		}, []string{"reason"}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicecap_input_level_dbfs",
			Help: "RMS level of the most recent captured frame in dBFS",
		}),

		// Recording metrics
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_recordings_rejected_total",
			Help: "Total number of start requests rejected because of the session state",
		}, []string{"state"}),
		EmptyCaptures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_empty_captures_total",
			Help: "Total number of recordings stopped without any captured audio",
		}),
		SilentRecordings: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_silent_recordings_total",
			Help: "Total number of uploaded recordings whose peak stayed below the silence threshold",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_recording_duration_seconds",
			Help:    "Length of captured audio per recording",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicecap_session_state",
			Help: "Current recording session state (1 for the active state)",
		}, []string{"state"}),

		// Encoding metrics
		WAVSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_wav_size_bytes",
			Help:    "Size of encoded WAV uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(8192, 2, 12), // 8KB to ~16MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_transcription_requests_total",
			Help: "Total number of transcription uploads",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_transcription_successes_total",
			Help: "Total number of uploads that returned a transcript",
		}),
		TranscriptionEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_transcription_empty_total",
			Help: "Total number of successful uploads that returned no result",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_transcription_failures_total",
			Help: "Total number of failed uploads",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_transcription_duration_seconds",
			Help:    "Duration of transcription uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicecap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame records one captured frame and its RMS level
func (m *Metrics) RecordFrame(samples int, levelDBFS float64) {
	m.FramesCaptured.Inc()
	m.SamplesCaptured.Add(float64(samples))
	m.InputLevel.Set(levelDBFS)
}

// RecordCaptureFailure records a failed acquisition
func (m *Metrics) RecordCaptureFailure(reason string) {
	m.CaptureFailures.WithLabelValues(reason).Inc()
}

// RecordRecordingStarted increments the recordings started counter
func (m *Metrics) RecordRecordingStarted() {
	m.RecordingsStarted.Inc()
}

// RecordRecordingRejected records a start request refused in state
func (m *Metrics) RecordRecordingRejected(state string) {
	m.RecordingsRejected.WithLabelValues(state).Inc()
}

// RecordEmptyCapture increments the empty capture counter
func (m *Metrics) RecordEmptyCapture() {
	m.EmptyCaptures.Inc()
}

// RecordSilentRecording increments the silent recording counter
func (m *Metrics) RecordSilentRecording() {
	m.SilentRecordings.Inc()
}

// RecordRecordingStopped records the captured audio length and encoded size
func (m *Metrics) RecordRecordingStopped(durationSeconds float64, wavBytes int) {
	m.RecordingDuration.Observe(durationSeconds)
	m.WAVSize.Observe(float64(wavBytes))
}

// SetSessionState marks state as the only active session state
func (m *Metrics) SetSessionState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.SessionState.WithLabelValues(s).Set(value)
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful upload; found reports
// whether a transcript came back
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64, found bool) {
	if found {
		m.TranscriptionSuccesses.Inc()
	} else {
		m.TranscriptionEmpty.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
