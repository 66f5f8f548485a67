// Package session provides the recording state machine.
// A Manager owns at most one live Session, which in turn owns its capture
// source and sample buffer; stopping a recording encodes the buffer and
// uploads it for transcription before the next recording may start.
package session
