package session

import "errors"

// State is the recording lifecycle state
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateError
)

// States lists every state, in declaration order
var States = []State{StateIdle, StateRecording, StateTranscribing, StateError}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

var (
	// ErrBusy is returned by Start while a previous recording is still being transcribed
	ErrBusy = errors.New("session: transcription in progress")

	// ErrAlreadyRecording is returned by Start while a recording is live
	ErrAlreadyRecording = errors.New("session: already recording")

	// ErrNotRecording is returned by Stop when no recording is live
	ErrNotRecording = errors.New("session: not recording")

	// ErrEmptyCapture is returned by Stop when no audio was captured
	ErrEmptyCapture = errors.New("session: no audio captured")
)
