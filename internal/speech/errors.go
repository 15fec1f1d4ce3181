package speech

import "errors"

// ErrSpeech matches every error returned by a Converter operation.
var ErrSpeech = errors.New("speech converter error")

var (
	ErrNoResult      = errors.New("connection closed before a result was received")
	ErrInvalidResult = errors.New("invalid result received from backend")
)

// TranscribeError wraps any failure of a transcribe request.
type TranscribeError struct {
	Err error
}

func (e *TranscribeError) Error() string {
	return "error while transcribing audio: " + e.Err.Error()
}

func (e *TranscribeError) Unwrap() error { return e.Err }

func (e *TranscribeError) Is(target error) bool { return target == ErrSpeech }

// SynthesizeError wraps any failure of a synthesize request.
type SynthesizeError struct {
	Err error
}

func (e *SynthesizeError) Error() string {
	return "error while synthesizing audio: " + e.Err.Error()
}

func (e *SynthesizeError) Unwrap() error { return e.Err }

func (e *SynthesizeError) Is(target error) bool { return target == ErrSpeech }
