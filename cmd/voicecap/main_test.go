package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/voicecap/internal/audio"
	"github.com/skypro1111/voicecap/internal/capture"
	"github.com/skypro1111/voicecap/internal/config"
	"github.com/skypro1111/voicecap/internal/session"
	"github.com/skypro1111/voicecap/internal/transcription"
)

type lineSource struct {
	gate *capture.Gate
}

func (s *lineSource) Acquire(ctx context.Context, consume capture.Consumer) error {
	s.gate = capture.NewGate(consume)
	s.gate.Deliver(audio.Frame{0.25, -0.25})
	return nil
}

func (s *lineSource) Release() error {
	s.gate.Close()
	return nil
}

func TestCombineCallbacks(t *testing.T) {
	var order []string
	record := func(prefix string) session.Callbacks {
		return session.Callbacks{
			OnTranscription: func(text string) { order = append(order, prefix+":"+text) },
			OnError:         func(err error) { order = append(order, prefix+":"+err.Error()) },
		}
	}

	combined := combineCallbacks(record("a"), session.Callbacks{}, record("b"))
	combined.OnTranscription("hi")
	combined.OnError(errors.New("boom"))
	combined.OnStateChange(session.StateIdle, session.StateRecording)

	want := []string{"a:hi", "b:hi", "a:boom", "b:boom"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, order)
	}
}

func TestToggleFromInput(t *testing.T) {
	stt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[{"transcript":"from stdin"}]}`)
	}))
	defer stt.Close()

	client, err := transcription.NewClient(transcription.Config{Endpoint: stt.URL})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := session.NewManager(logger, nil, session.ManagerConfig{
		Format:      capture.Format{SampleRate: 16000, FrameSize: 1024},
		NewSource:   func() capture.Source { return &lineSource{} },
		Transcriber: client,
		Callbacks:   printCallbacks(&out),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		toggleFromInput(ctx, cancel, strings.NewReader("\n\n"), mgr, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("toggleFromInput did not return at EOF")
	}

	if ctx.Err() == nil {
		t.Error("Expected context cancelled at EOF")
	}
	if got := strings.TrimSpace(out.String()); got != "from stdin" {
		t.Errorf("Expected transcript printed, got %q", got)
	}
	if mgr.State() != session.StateIdle {
		t.Errorf("Expected idle, got %s", mgr.State())
	}
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level enabled")
	}

	logger = initLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level disabled at warn")
	}
}

func TestLoadConfigInputOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "capture:\n  backend: \"file\"\n  file_path: \"\"\ntranscription:\n  endpoint: \"http://localhost:9000/transcribe\"\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadConfig(configPath, ""); err == nil {
		t.Error("Expected error without -input")
	}

	cfg, err := loadConfig(configPath, "replay.wav")
	if err != nil {
		t.Fatalf("Expected -input to satisfy validation, got %v", err)
	}
	if cfg.Capture.Backend != config.BackendFile || cfg.Capture.FilePath != "replay.wav" {
		t.Errorf("Expected file backend on replay.wav, got %+v", cfg.Capture)
	}
}
