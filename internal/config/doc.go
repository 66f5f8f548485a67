// Package config loads the YAML service configuration, resolves the
// transcription token from the environment and validates every section.
package config
