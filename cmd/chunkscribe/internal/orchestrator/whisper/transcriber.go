// Package whisper abstracts the speech recognition capability used to
// transcribe audio chunks. Recognition itself always happens out of process:
// either a go-whisper HTTP service or a local whisper CLI program.
package whisper

import (
	"context"
	"time"
)

// TranscriptionSegment is one contiguous span of recognized speech.
// Times are in seconds; chunk-local when returned by a backend.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the complete output of one backend call.
type TranscriptionResult struct {
	Segments []TranscriptionSegment `json:"segments"`

	// Text is the concatenation of all segment texts, when the backend provides it.
	Text string `json:"text"`

	// Language is the detected or requested language code (e.g., "en", "zh").
	Language string `json:"language"`

	// Duration is the audio duration in seconds.
	Duration float64 `json:"duration"`
}

// WhisperTranscriber is the inference capability.
//
// An instance is NOT assumed to be safe for concurrent use; callers obtain a
// dedicated instance per concurrent call through a Factory.
type WhisperTranscriber interface {
	// Transcribe recognizes speech in the WAV file at audioPath.
	//
	// Implementation notes:
	//   - Must respect context timeout and cancellation
	//   - Silence yields a valid result with an empty Segments slice, not an error
	Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error)

	// HealthCheck verifies that the backend is operational. It should be cheap.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the implementation in logs and health output
	// (e.g., "go-whisper", "local-whisper").
	Name() string
}

// TranscribeOptions defines optional parameters for the Transcribe operation.
// All fields are optional; implementations provide defaults.
type TranscribeOptions struct {
	// Model is the model identifier (e.g., "base", "small", "large-v3").
	Model string

	// Device is "cpu" or "cuda". Empty lets the backend decide.
	Device string

	// Language forces an ISO 639-1 language. Empty means auto-detection.
	Language string

	// Prompt provides context for domain-specific vocabulary.
	Prompt string

	// Temperature is the sampling temperature; 0 reduces hallucinated repeats.
	Temperature float64

	// Timeout bounds a single call. Zero means no extra bound beyond ctx.
	Timeout time.Duration
}
