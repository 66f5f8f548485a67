// Package transcription implements the HTTP client for the transcription API.
// It uploads a WAV recording as a single multipart file field, optionally
// authenticated with a bearer token, and decodes the first transcript from
// the JSON results list.
package transcription
