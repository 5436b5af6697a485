package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/metrics"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/audio"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// Result is the merged output of one coordinated run.
type Result struct {
	// Segments are global-time segments, concatenated in chunk index order
	// (not yet sorted).
	Segments []whisper.TranscriptionSegment

	// Succeeded lists the indices of chunks that produced output, ascending.
	Succeeded []int

	// ChunkErrors holds absorbed per-chunk failures, ordered by index.
	ChunkErrors []*ChunkError
}

// Complete reports whether every chunk succeeded.
func (r *Result) Complete() bool { return len(r.ChunkErrors) == 0 }

// FailedIndices returns the indices of failed chunks.
func (r *Result) FailedIndices() []int {
	out := make([]int, 0, len(r.ChunkErrors))
	for _, ce := range r.ChunkErrors {
		out = append(out, ce.Index)
	}
	return out
}

type chunkOutcome struct {
	pos      int
	segments []whisper.TranscriptionSegment
	err      error
	elapsed  time.Duration
}

// Coordinator runs one worker per chunk concurrently.
type Coordinator struct {
	transcriber *ChunkTranscriber
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(transcriber *ChunkTranscriber) *Coordinator {
	return &Coordinator{transcriber: transcriber}
}

// Run transcribes every ref concurrently and waits for all of them; one
// failure never cancels the others. Each chunk file is released by its worker.
//
// Returns *AllChunksFailedError when nothing succeeded, or the validation
// error(s) when any backend returned malformed times.
func (c *Coordinator) Run(ctx context.Context, refs []audio.SegmentRef, opts whisper.TranscribeOptions) (*Result, error) {
	if len(refs) == 0 {
		return nil, &ValidationError{Chunk: -1, Reason: "no chunks to transcribe"}
	}

	outcomes := make(chan chunkOutcome, len(refs))
	// one goroutine per ref; the chunk count was fixed before dispatch
	var g errgroup.Group

	for pos, ref := range refs {
		pos, ref := pos, ref
		g.Go(func() error {
			defer func() {
				if err := ref.Release(); err != nil {
					logger.L().Warn("release chunk failed", slog.Int("chunk_id", ref.Index), slog.String("error", err.Error()))
				}
			}()

			logger.LogChunkEvent(nil, "asr", "start", ref.Index, 0, "",
				slog.Float64("offset", ref.Start), slog.Float64("duration", ref.Duration()))
			start := time.Now()
			segs, err := c.transcriber.Transcribe(ctx, ref, opts)
			outcomes <- chunkOutcome{pos: pos, segments: segs, err: err, elapsed: time.Since(start)}
			return nil
		})
	}
	// workers report through outcomes and never return an error
	_ = g.Wait()
	close(outcomes)

	perChunk := make([][]whisper.TranscriptionSegment, len(refs))
	chunkErrs := make([]*ChunkError, len(refs))
	var validationErrs []error

	for o := range outcomes {
		ref := refs[o.pos]
		ms := o.elapsed.Milliseconds()
		metrics.RecordDuration("asr", o.elapsed.Seconds())

		if o.err == nil {
			perChunk[o.pos] = o.segments
			metrics.RecordChunk("success")
			logger.LogChunkEvent(nil, "asr", "success", ref.Index, ms, "", slog.Int("segments", len(o.segments)))
			continue
		}

		var ve *ValidationError
		if errors.As(o.err, &ve) {
			validationErrs = append(validationErrs, o.err)
			metrics.RecordChunk("invalid")
			metrics.RecordError("asr", string(VALIDATION_FAILED))
			logger.LogChunkEvent(nil, "asr", "error", ref.Index, ms, string(VALIDATION_FAILED), slog.String("error", o.err.Error()))
			continue
		}

		ce := asChunkError(ref.Index, o.err)
		chunkErrs[o.pos] = ce
		action := "error"
		if ce.TimedOut {
			action = "timeout"
		}
		metrics.RecordChunk(action)
		metrics.RecordError("asr", string(CHUNK_FAILED))
		logger.LogChunkEvent(nil, "asr", action, ref.Index, ms, string(CHUNK_FAILED), slog.String("error", ce.Error()))
	}

	if len(validationErrs) > 0 {
		return nil, errors.Join(validationErrs...)
	}

	res := &Result{}
	for pos, ref := range refs {
		if chunkErrs[pos] != nil {
			res.ChunkErrors = append(res.ChunkErrors, chunkErrs[pos])
			continue
		}
		res.Succeeded = append(res.Succeeded, ref.Index)
		res.Segments = append(res.Segments, perChunk[pos]...)
	}

	if len(res.Succeeded) == 0 {
		return nil, &AllChunksFailedError{Errors: res.ChunkErrors}
	}
	return res, nil
}

func asChunkError(index int, err error) *ChunkError {
	var ce *ChunkError
	if errors.As(err, &ce) {
		return ce
	}
	return &ChunkError{Index: index, Cause: err}
}
