package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/voicecap/internal/capture"
	"github.com/skypro1111/voicecap/internal/capture/portaudio"
	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/metrics"
	"github.com/skypro1111/voicecap/internal/server"
	"github.com/skypro1111/voicecap/internal/session"
	"github.com/skypro1111/voicecap/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicecap"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "Replay a mono WAV file instead of the microphone")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.Duration("frame_duration", cfg.Audio.GetFrameDuration()),
		slog.String("capture_backend", cfg.Capture.Backend),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("transcription_auth", cfg.Transcription.Token != ""),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	format := capture.Format{
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
	}

	var factory capture.Factory
	switch cfg.Capture.Backend {
	case config.BackendFile:
		factory = capture.FileFactory(cfg.Capture.FilePath, format, cfg.Capture.Realtime, logger)
	default:
		factory = portaudio.Factory(format, logger)
	}

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:  cfg.Transcription.Endpoint,
		Token:     cfg.Transcription.Token,
		Timeout:   cfg.Transcription.GetTimeoutDuration(),
		FieldName: cfg.Transcription.FieldName,
		UserAgent: serviceName + "/" + serviceVersion,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hub := server.NewHub(logger, cfg.HTTP.AllowedOrigins)

	mgr, err := session.NewManager(logger, appMetrics, session.ManagerConfig{
		Format:      format,
		NewSource:   factory,
		Transcriber: client,
		Callbacks:   combineCallbacks(printCallbacks(os.Stdout), hub.SessionCallbacks()),
	})
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.String("capture_backend", cfg.Capture.Backend),
		slog.Duration("upload_timeout", cfg.Transcription.GetTimeoutDuration()),
	)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, mgr, client, hub, appMetrics, nil)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		go toggleFromInput(ctx, cancel, os.Stdin, mgr, logger)
		fmt.Fprintln(os.Stderr, "Press Enter to start recording, Enter again to stop and transcribe.")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Input closed, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// A live recording is discarded, not transcribed
	if err := mgr.Close(); err != nil {
		logger.Error("Error releasing capture source", slog.String("error", err.Error()))
	}
	client.Close()

	stats := mgr.GetStats()
	clientStats := client.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("recordings_started", stats.RecordingsStarted),
		slog.Uint64("transcriptions", stats.Transcriptions),
		slog.Uint64("empty_results", stats.EmptyResults),
		slog.Uint64("empty_captures", stats.EmptyCaptures),
		slog.Uint64("capture_failures", stats.CaptureFailures),
		slog.Uint64("upload_failures", stats.UploadFailures),
		slog.Uint64("upload_requests", clientStats.TotalRequests),
	)

	logger.Info("Service stopped")
}

// toggleFromInput starts or stops a recording on every line read from r.
// EOF cancels ctx.
func toggleFromInput(ctx context.Context, cancel context.CancelFunc, r io.Reader, mgr *session.Manager, logger *slog.Logger) {
	defer cancel()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		if mgr.State() == session.StateRecording {
			fmt.Fprintln(os.Stderr, "Transcribing...")
			if _, err := mgr.Stop(ctx); err != nil && !errors.Is(err, session.ErrEmptyCapture) {
				logger.Debug("Stop failed", slog.String("error", err.Error()))
			}
			continue
		}

		if err := mgr.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot start recording: %v\n", err)
			continue
		}
		fmt.Fprintln(os.Stderr, "Recording... press Enter to stop.")
	}
}

// printCallbacks writes transcripts to w and failures to stderr
func printCallbacks(w io.Writer) session.Callbacks {
	return session.Callbacks{
		OnTranscription: func(text string) {
			fmt.Fprintln(w, text)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		},
	}
}

// combineCallbacks invokes every non-nil callback in order
func combineCallbacks(all ...session.Callbacks) session.Callbacks {
	return session.Callbacks{
		OnTranscription: func(text string) {
			for _, cb := range all {
				if cb.OnTranscription != nil {
					cb.OnTranscription(text)
				}
			}
		},
		OnError: func(err error) {
			for _, cb := range all {
				if cb.OnError != nil {
					cb.OnError(err)
				}
			}
		},
		OnStateChange: func(from, to session.State) {
			for _, cb := range all {
				if cb.OnStateChange != nil {
					cb.OnStateChange(from, to)
				}
			}
		},
	}
}

// loadConfig loads path; a non-empty inputPath replaces the capture
// backend before the config is validated
func loadConfig(path, inputPath string) (*config.Config, error) {
	var overrides []config.Override
	if inputPath != "" {
		overrides = append(overrides, config.WithInputFile(inputPath))
	}
	return config.Load(path, overrides...)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Default to stderr so transcripts own stdout
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
