// Package orchestrator runs the chunked parallel transcription pipeline:
// decode, estimate, split, transcribe chunks concurrently, assemble the
// global timeline and write the transcript artefacts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/metrics"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/audio"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/timeline"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// DecoderProvider returns the media decoder to use right now.
// degradation.Controller[audio.MediaDecoder] implements it.
type DecoderProvider interface {
	Current() audio.MediaDecoder
}

type staticDecoder struct{ d audio.MediaDecoder }

func (s staticDecoder) Current() audio.MediaDecoder { return s.d }

// StaticDecoder wraps a single decoder as a DecoderProvider.
func StaticDecoder(d audio.MediaDecoder) DecoderProvider { return staticDecoder{d: d} }

// Deps are the external collaborators of the pipeline.
type Deps struct {
	Decoder DecoderProvider
	Prober  GPUProber // nil means no accelerator
	Factory whisper.Factory
}

// Request is one transcription job.
type Request struct {
	Source    string `json:"source"`
	OutputDir string `json:"output_dir,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	Manifest    *timeline.Manifest `json:"manifest"`
	Estimate    Estimate           `json:"estimate"`
	ChunkErrors []*ChunkError      `json:"-"`
	Duration    time.Duration      `json:"duration"`
}

// Partial reports whether some chunks are missing from the transcript.
func (r *Report) Partial() bool { return len(r.ChunkErrors) > 0 }

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	cfg       *config.Config
	deps      Deps
	estimator *Estimator
	splitter  *audio.Splitter
}

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if deps.Factory == nil {
		return nil, errors.New("transcriber factory is required")
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		estimator: NewEstimator(deps.Prober, cfg.Estimator),
		splitter:  audio.NewSplitter(),
	}, nil
}

// Transcribe runs the whole pipeline for req. Every temporary artefact is
// removed before it returns. Fatal errors are *OrchError and leave no
// output files behind.
func (o *Orchestrator) Transcribe(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()
	if req.Model == "" {
		req.Model = o.cfg.Model
	}
	if req.OutputDir == "" {
		req.OutputDir = o.cfg.OutputDir
	}
	log := logger.L().With(slog.String("source", req.Source), slog.String("model", req.Model))

	if req.Source == "" {
		return nil, o.fail("decode", NewExtractionError(req.Source, errors.New("source is empty")))
	}
	if _, err := os.Stat(req.Source); err != nil {
		return nil, o.fail("decode", NewExtractionError(req.Source, err))
	}

	ws, err := audio.NewWorkspace(o.cfg.TempDir)
	if err != nil {
		return nil, o.fail("decode", NewExtractionError(req.Source, err))
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("workspace cleanup failed", slog.String("error", err.Error()))
		}
	}()

	if err := ws.CheckFreeSpace(o.cfg.MinFreeDiskMiB); err != nil {
		if errors.Is(err, audio.ErrDiskFull) {
			return nil, o.fail("decode", NewDiskFullError(ws.Dir(), err))
		}
		log.Warn("disk space check skipped", slog.String("error", err.Error()))
	}

	// decode
	decoder := o.deps.Decoder.Current()
	decoded := ws.Paths().GetSourceAudioPath()
	stageStart := time.Now()
	decodeCtx, cancel := context.WithTimeout(ctx, o.cfg.DecodeTimeout)
	err = decoder.Decode(decodeCtx, req.Source, decoded)
	cancel()
	metrics.RecordDuration("decode", time.Since(stageStart).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.fail("decode", NewCancelledError("decode", ctx.Err()))
		}
		return nil, o.fail("decode", NewExtractionError(req.Source, fmt.Errorf("%s: %w", decoder.Name(), err)))
	}
	logger.LogChunkEvent(log, "decode", "success", -1, time.Since(stageStart).Milliseconds(), "",
		slog.String("decoder", decoder.Name()))

	// estimate
	est := o.estimator.Estimate(ctx)
	if dev := o.cfg.Whisper.Device; dev == DeviceCPU || dev == DeviceCUDA {
		est.Device = dev
	}

	// split
	stageStart = time.Now()
	refs, err := o.splitter.Split(ctx, decoded, est.Chunks, ws)
	metrics.RecordDuration("split", time.Since(stageStart).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrInvalidChunkCount):
			return nil, o.fail("split", NewOrchError(VALIDATION_FAILED, "切片数不合法", &ValidationError{Chunk: -1, Reason: err.Error()}))
		case ctx.Err() != nil:
			return nil, o.fail("split", NewCancelledError("split", ctx.Err()))
		default:
			return nil, o.fail("split", NewExtractionError(req.Source, err))
		}
	}
	_ = os.Remove(decoded)
	est.Chunks = len(refs)
	metrics.SetChunkCount(len(refs))
	log.Info("audio split", slog.Int("chunks", len(refs)), slog.Float64("duration_s", refs[len(refs)-1].End))

	// transcribe
	opts := whisper.Options(o.cfg.Whisper, req.Model)
	opts.Device = est.Device
	coordinator := NewCoordinator(NewChunkTranscriber(o.deps.Factory, o.cfg.ChunkTimeout))
	res, err := coordinator.Run(ctx, refs, opts)
	// chunks cut short by cancellation are not chunk failures; publish nothing
	if ctx.Err() != nil {
		return nil, o.fail("asr", NewCancelledError("asr", ctx.Err()))
	}
	if err != nil {
		var all *AllChunksFailedError
		if errors.As(err, &all) {
			return nil, o.fail("asr", NewOrchError(ALL_CHUNKS_FAILED, "所有切片转写失败", err))
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, o.fail("asr", NewOrchError(VALIDATION_FAILED, "转写结果时间戳不合法", err))
		}
		return nil, o.fail("asr", err)
	}

	// assemble + write
	stageStart = time.Now()
	tl := timeline.Assemble(res.Segments)
	manifest, err := timeline.NewWriter(req.OutputDir).Write(timeline.BaseName(req.Source), tl, timeline.RunInfo{
		SourceLocator:   req.Source,
		ModelIdentifier: req.Model,
		ChunkCount:      len(refs),
		Device:          est.Device,
		ChunksSucceeded: len(res.Succeeded),
		FailedChunks:    res.FailedIndices(),
	})
	metrics.RecordDuration("assemble", time.Since(stageStart).Seconds())
	if err != nil {
		return nil, o.fail("assemble", NewOutputError(req.OutputDir, err))
	}

	metrics.RecordRun(manifest.Coverage)
	metrics.RecordDuration("total", time.Since(started).Seconds())
	report := &Report{
		Manifest:    manifest,
		Estimate:    est,
		ChunkErrors: res.ChunkErrors,
		Duration:    time.Since(started),
	}

	if report.Partial() {
		log.Warn("transcript is partial",
			slog.Any("failed_chunks", manifest.FailedChunks),
			slog.Int("chunk_count", manifest.ChunkCount))
	}
	log.Info("transcription complete",
		slog.Int("segments", manifest.SegmentCount),
		slog.Int("windows", len(manifest.WindowKeys)),
		slog.String("coverage", manifest.Coverage),
		slog.Duration("elapsed", report.Duration))
	return report, nil
}

func (o *Orchestrator) fail(stage string, err error) error {
	code := CodeOf(err)
	metrics.RecordError(stage, string(code))
	if code == CANCELLED {
		metrics.RecordRun("cancelled")
	} else {
		metrics.RecordRun("failed")
	}
	logger.L().Error("transcription failed",
		slog.String("stage", stage),
		slog.String("error_code", string(code)),
		slog.String("error", err.Error()))
	return err
}
