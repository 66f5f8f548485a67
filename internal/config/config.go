package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains the capture format
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"` // samples per frame
}

// CaptureConfig selects the capture backend
type CaptureConfig struct {
	Backend  string `yaml:"backend"` // portaudio or file
	FilePath string `yaml:"file_path"`
	Realtime bool   `yaml:"realtime"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	TokenEnv  string `yaml:"token_env"`
	Timeout   int    `yaml:"timeout"` // seconds, 0 disables the client timeout
	FieldName string `yaml:"field_name"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`

	// Browser origins allowed besides the server's own host
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

const (
	BackendPortAudio = "portaudio"
	BackendFile      = "file"
)

// Load reads and parses the configuration file. A .env file next to the
// config, or in the working directory, is loaded before token_env is resolved.
// Overrides apply after defaults and before validation.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}
	config.Transcription.resolveToken()

	for _, override := range overrides {
		override(&config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Override adjusts a loaded config before it is validated
type Override func(*Config)

// WithInputFile switches capture to the file backend reading path
func WithInputFile(path string) Override {
	return func(c *Config) {
		c.Capture.Backend = BackendFile
		c.Capture.FilePath = path
	}
}

// loadDotEnv loads each existing file; variables already set are kept
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameSize == 0 {
		c.Audio.FrameSize = 4096
	}
	if c.Capture.Backend == "" {
		c.Capture.Backend = BackendPortAudio
	}
	if c.Transcription.FieldName == "" {
		c.Transcription.FieldName = "file"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 65536 {
		return fmt.Errorf("frame_size must be between 64 and 65536 samples, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Backend {
	case BackendPortAudio:
	case BackendFile:
		if c.FilePath == "" {
			return fmt.Errorf("file_path cannot be empty for the file backend")
		}
	default:
		return fmt.Errorf("backend must be '%s' or '%s', got '%s'", BackendPortAudio, BackendFile, c.Backend)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", t.Timeout)
	}

	if t.FieldName == "" {
		return fmt.Errorf("field_name cannot be empty")
	}

	return nil
}

func (t *TranscriptionConfig) resolveToken() {
	if t.Token != "" || t.TokenEnv == "" {
		return
	}
	t.Token = os.Getenv(t.TokenEnv)
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	for _, origin := range h.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("allowed origin must be scheme://host[:port], got '%s'", origin)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetFrameDuration returns the time covered by one capture frame
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameSize) * time.Second / time.Duration(a.SampleRate)
}
