// Package capture defines the push-style frame source used by recording
// sessions. It provides the acquire/release contract, the capture error
// taxonomy, and a WAV file replay source; the microphone implementation lives
// in the portaudio subpackage.
package capture
