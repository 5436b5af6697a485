package audio

import (
	"context"
	"fmt"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
)

// MediaDecoder turns any supported media source into a mono 16-bit PCM WAV.
type MediaDecoder interface {
	// Decode writes the decoded audio of source to dst.
	Decode(ctx context.Context, source, dst string) error

	HealthCheck(ctx context.Context) (bool, error)

	Name() string
}

// FFmpegDecoder decodes through the external ffmpeg program.
type FFmpegDecoder struct {
	client     *dependency.DependencyClient
	sampleRate int
}

// NewFFmpegDecoder creates an FFmpegDecoder producing sampleRate Hz output.
func NewFFmpegDecoder(client *dependency.DependencyClient, sampleRate int) *FFmpegDecoder {
	return &FFmpegDecoder{client: client, sampleRate: sampleRate}
}

// Decode runs ffmpeg on source.
func (d *FFmpegDecoder) Decode(ctx context.Context, source, dst string) error {
	if err := d.client.ExtractAudio(ctx, source, dst, d.sampleRate); err != nil {
		return fmt.Errorf("ffmpeg decode %s: %w", source, err)
	}
	return nil
}

// HealthCheck reports whether ffmpeg can be resolved.
func (d *FFmpegDecoder) HealthCheck(ctx context.Context) (bool, error) {
	if err := d.client.HealthCheck(ctx, "ffmpeg"); err != nil {
		return false, err
	}
	return true, nil
}

// Name returns "ffmpeg".
func (d *FFmpegDecoder) Name() string { return "ffmpeg" }
