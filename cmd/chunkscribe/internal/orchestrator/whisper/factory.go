package whisper

import (
	"fmt"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
)

// Factory returns a fresh, exclusively owned backend instance per call.
// Concurrent chunk workers each call it once.
type Factory func() (WhisperTranscriber, error)

// NewFactory builds the Factory selected by cfg.Mode.
func NewFactory(cfg config.WhisperConfig) (Factory, error) {
	switch cfg.Mode {
	case "http", "":
		url := cfg.APIURL
		return func() (WhisperTranscriber, error) {
			return NewGoWhisperImpl(url), nil
		}, nil
	case "cli":
		path := cfg.ProgramPath
		return func() (WhisperTranscriber, error) {
			return NewLocalWhisperImpl(path)
		}, nil
	default:
		return nil, fmt.Errorf("unknown whisper mode %q", cfg.Mode)
	}
}

// Options converts the backend config into per-call options.
// Device "auto" is resolved by the caller from the resource estimate.
func Options(cfg config.WhisperConfig, model string) TranscribeOptions {
	device := cfg.Device
	if device == "auto" {
		device = ""
	}
	return TranscribeOptions{
		Model:       model,
		Device:      device,
		Language:    cfg.Language,
		Temperature: cfg.Temperature,
	}
}
