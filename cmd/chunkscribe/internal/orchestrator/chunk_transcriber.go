package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/audio"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
)

// ChunkTranscriber transcribes one chunk with an exclusively owned backend
// and maps its chunk-local times onto the global timeline.
type ChunkTranscriber struct {
	factory whisper.Factory
	timeout time.Duration
}

// NewChunkTranscriber creates a ChunkTranscriber. timeout <= 0 disables the per-chunk bound.
func NewChunkTranscriber(factory whisper.Factory, timeout time.Duration) *ChunkTranscriber {
	return &ChunkTranscriber{factory: factory, timeout: timeout}
}

// Transcribe returns segments with start/end shifted by ref.Start.
//
// Backend failures and timeouts yield *ChunkError; malformed segment times
// yield *ValidationError. Every segment must satisfy 0 <= start < end.
func (c *ChunkTranscriber) Transcribe(ctx context.Context, ref audio.SegmentRef, opts whisper.TranscribeOptions) ([]whisper.TranscriptionSegment, error) {
	backend, err := c.factory()
	if err != nil {
		return nil, &ChunkError{Index: ref.Index, Cause: fmt.Errorf("create backend: %w", err)}
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := backend.Transcribe(callCtx, ref.Path, &opts)
	if err != nil {
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
		return nil, &ChunkError{Index: ref.Index, Cause: fmt.Errorf("%s: %w", backend.Name(), err), TimedOut: timedOut}
	}
	if result == nil {
		return []whisper.TranscriptionSegment{}, nil
	}

	out := make([]whisper.TranscriptionSegment, 0, len(result.Segments))
	for i, seg := range result.Segments {
		if err := validateSegment(ref.Index, i, seg); err != nil {
			return nil, err
		}
		out = append(out, whisper.TranscriptionSegment{
			ID:    seg.ID,
			Start: seg.Start + ref.Start,
			End:   seg.End + ref.Start,
			Text:  norm.NFC.String(strings.TrimSpace(seg.Text)),
		})
	}
	return out, nil
}

func validateSegment(chunk, i int, seg whisper.TranscriptionSegment) error {
	switch {
	case math.IsNaN(seg.Start) || math.IsNaN(seg.End) || math.IsInf(seg.Start, 0) || math.IsInf(seg.End, 0):
		return &ValidationError{Chunk: chunk, Reason: fmt.Sprintf("segment %d has non-finite time (%v, %v)", i, seg.Start, seg.End)}
	case seg.Start < 0:
		return &ValidationError{Chunk: chunk, Reason: fmt.Sprintf("segment %d has negative start %v", i, seg.Start)}
	case seg.End <= seg.Start:
		return &ValidationError{Chunk: chunk, Reason: fmt.Sprintf("segment %d does not end after it starts (%v <= %v)", i, seg.End, seg.Start)}
	}
	return nil
}
