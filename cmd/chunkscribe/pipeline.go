package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/audio"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/degradation"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/dependency"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/whisper"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

const (
	healthInterval      = 30 * time.Second
	healthFailThreshold = 3
)

// pipeline is the fully wired transcription stack.
type pipeline struct {
	orch     *orchestrator.Orchestrator
	decoder  *degradation.Controller[audio.MediaDecoder]
	checkers []*health.HealthChecker
}

// executorConfig maps the user config onto the external command executor.
func executorConfig(cfg *config.Config) dependency.ExecutorConfig {
	return dependency.ExecutorConfig{
		LocalBinaryPaths: map[string]string{
			"ffmpeg":     cfg.Decoder.FFmpegPath,
			"nvidia-smi": cfg.Estimator.NvidiaSMIPath,
		},
		DefaultTimeout:  cfg.DecodeTimeout,
		AllowedCommands: []string{"ffmpeg", "nvidia-smi"},
	}
}

// buildPipeline probes the decoders and the inference backend once and
// assembles the orchestrator.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.L()

	client := dependency.NewClient(executorConfig(cfg))

	ffmpeg := audio.NewFFmpegDecoder(client, cfg.Decoder.SampleRate)
	wavOnly := audio.NewWavDecoder(cfg.Decoder.SampleRate)
	// a single failed probe is enough to start on the fallback
	decoderHC := health.NewHealthChecker(ffmpeg, healthInterval, 1)
	if st := decoderHC.CheckNow(ctx); !st.IsHealthy {
		log.Warn("ffmpeg unavailable, only WAV sources can be decoded",
			slog.String("error", st.ErrorMessage))
	}
	decoder := degradation.NewController[audio.MediaDecoder](ffmpeg, wavOnly, decoderHC)

	factory, err := whisper.NewFactory(cfg.Whisper)
	if err != nil {
		return nil, err
	}

	checkers := []*health.HealthChecker{decoderHC}
	if backend, err := factory(); err != nil {
		log.Warn("whisper backend unavailable", slog.String("error", err.Error()))
	} else {
		hc := health.NewHealthChecker(backend, healthInterval, healthFailThreshold)
		if st := hc.CheckNow(ctx); !st.IsHealthy || st.ConsecutiveFails > 0 {
			log.Warn("whisper backend health check failed",
				slog.String("backend", backend.Name()),
				slog.String("error", st.ErrorMessage))
		}
		checkers = append(checkers, hc)
	}

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Decoder: decoder,
		Prober:  client,
		Factory: factory,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{orch: orch, decoder: decoder, checkers: checkers}, nil
}

// startHealthChecks runs every checker in the background until ctx ends.
func (p *pipeline) startHealthChecks(ctx context.Context) {
	for _, hc := range p.checkers {
		go hc.Start(ctx)
	}
}

func (p *pipeline) stopHealthChecks() {
	for _, hc := range p.checkers {
		hc.Stop()
	}
}
