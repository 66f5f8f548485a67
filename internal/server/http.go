package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voicecap/internal/capture"
	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/session"
	"github.com/skypro1111/voicecap/internal/transcription"
)

const (
	serviceName    = "voicecap"
	serviceVersion = "1.0.0"
)

// Recorder is the recording control surface exposed over HTTP
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (session.Outcome, error)
	State() session.State
	GetStats() session.Stats
}

// TranscriptionStats reports upload client statistics
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
	Endpoint() string
}

// HTTPServer provides the recording control API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	recorder Recorder
	stt      TranscriptionStats
	hub      *Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, recorder Recorder,
	stt TranscriptionStats, hub *Hub, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		recorder:  recorder,
		stt:       stt,
		hub:       hub,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	// Stop blocks for the whole upload
	var writeTimeout time.Duration
	if timeout := appConfig.Transcription.GetTimeoutDuration(); timeout > 0 {
		writeTimeout = timeout + 10*time.Second
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Recording control
	mux.HandleFunc("/recording", h.withMetrics("/recording", h.handleRecording))
	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleStop))

	// Hijacked connections cannot go through withMetrics
	mux.Handle("/transcripts", h.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and disconnects feed subscribers
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	h.hub.Close()
	return h.server.Shutdown(ctx)
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.checkOrigin(w, r) {
		return
	}

	err := h.recorder.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"state": h.recorder.State(),
		})
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrAlreadyRecording):
		writeError(w, http.StatusConflict, err, h.recorder.State())
	case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, capture.ErrDeviceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err, h.recorder.State())
	default:
		writeError(w, http.StatusInternalServerError, err, h.recorder.State())
	}
}

// handleStop implements POST /recording/stop. The upload outlives a
// disconnecting client so the recording is not lost.
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.checkOrigin(w, r) {
		return
	}

	outcome, err := h.recorder.Stop(context.WithoutCancel(r.Context()))

	var failed *transcription.FailedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, outcomeResponse(outcome, false))
	case errors.Is(err, session.ErrEmptyCapture):
		writeJSON(w, http.StatusOK, outcomeResponse(outcome, true))
	case errors.Is(err, session.ErrNotRecording):
		writeError(w, http.StatusConflict, err, h.recorder.State())
	case errors.As(err, &failed):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":           err.Error(),
			"upstream_status": failed.StatusCode,
			"session_id":      outcome.SessionID,
			"state":           h.recorder.State(),
		})
	default:
		writeError(w, http.StatusInternalServerError, err, h.recorder.State())
	}
}

// checkOrigin answers 403 to a browser request from a foreign page.
// Bodyless POSTs skip CORS preflight, so the handler has to refuse them.
func (h *HTTPServer) checkOrigin(w http.ResponseWriter, r *http.Request) bool {
	if originAllowed(r, h.config.HTTP.AllowedOrigins) {
		return true
	}

	h.logger.Warn("Rejected cross-origin request",
		slog.String("path", r.URL.Path),
		slog.String("origin", r.Header.Get("Origin")),
	)
	writeError(w, http.StatusForbidden, fmt.Errorf("origin %q not allowed", r.Header.Get("Origin")), h.recorder.State())
	return false
}

func outcomeResponse(outcome session.Outcome, empty bool) map[string]interface{} {
	return map[string]interface{}{
		"session_id":       outcome.SessionID,
		"found":            outcome.Found,
		"transcript":       outcome.Transcript,
		"empty":            empty,
		"samples":          outcome.Samples,
		"duration_seconds": outcome.Duration.Seconds(),
		"wav_bytes":        outcome.WAVBytes,
		"silent":           outcome.Silent,
		"peak_dbfs":        outcome.Level.PeakDBFS(),
	}
}

// handleRecording implements GET /recording
func (h *HTTPServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.recorder.GetStats()
	response := map[string]interface{}{
		"state":     stats.State,
		"timestamp": time.Now().UTC(),
	}
	if stats.Current != nil {
		response["current"] = stats.Current
	}

	writeJSON(w, http.StatusOK, response)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transcriptionStats := h.stt.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"session": map[string]interface{}{
				"status": "running",
				"state":  h.recorder.State(),
			},
			"transcription": map[string]interface{}{
				"status":          "running",
				"endpoint":        h.stt.Endpoint(),
				"total_requests":  transcriptionStats.TotalRequests,
				"success_rate":    transcriptionStats.SuccessRate,
				"active_requests": transcriptionStats.ActiveRequests,
			},
			"feed": map[string]interface{}{
				"subscribers": h.hub.Count(),
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Token and token_env are omitted
	sanitizedConfig := map[string]interface{}{
		"audio": map[string]interface{}{
			"sample_rate": h.config.Audio.SampleRate,
			"frame_size":  h.config.Audio.FrameSize,
		},
		"capture": map[string]interface{}{
			"backend":   h.config.Capture.Backend,
			"file_path": h.config.Capture.FilePath,
			"realtime":  h.config.Capture.Realtime,
		},
		"transcription": map[string]interface{}{
			"endpoint":   h.config.Transcription.Endpoint,
			"timeout":    h.config.Transcription.Timeout,
			"field_name": h.config.Transcription.FieldName,
			"auth":       h.config.Transcription.Token != "",
		},
		"http": map[string]interface{}{
			"address":         h.config.HTTP.Address,
			"port":            h.config.HTTP.Port,
			"allowed_origins": h.config.HTTP.AllowedOrigins,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":           time.Since(h.startTime).String(),
		"timestamp":        time.Now().UTC(),
		"session":          h.recorder.GetStats(),
		"transcription":    h.stt.GetStats(),
		"feed_subscribers": h.hub.Count(),
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Voice Capture Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get session and transcription statistics",
			"GET /recording":        "Get the recording state",
			"POST /recording/start": "Start a recording",
			"POST /recording/stop":  "Stop the recording and transcribe it",
			"GET /transcripts":      "WebSocket feed of transcripts and state changes",
			"GET /metrics":          "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error, state session.State) {
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"state": state,
	})
}
