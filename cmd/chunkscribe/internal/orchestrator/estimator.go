package orchestrator

import (
	"context"
	"log/slog"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/config"
	"github.com/houzhh15/chunkscribe/pkg/logger"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// GPUProber reports free accelerator memory in MiB.
// dependency.DependencyClient implements it via nvidia-smi.
type GPUProber interface {
	QueryGPUFreeMemory(ctx context.Context) (int64, error)
}

// Estimate is the chunking decision for one run.
type Estimate struct {
	Chunks        int    `json:"chunks"`
	Device        string `json:"device"`
	FreeMemoryMiB int64  `json:"free_memory_mib"`
	Accelerator   bool   `json:"accelerator"`
}

// Estimator picks a chunk count from available accelerator memory.
type Estimator struct {
	prober GPUProber
	cfg    config.EstimatorConfig
}

// NewEstimator creates an Estimator. A nil prober means "no accelerator".
func NewEstimator(prober GPUProber, cfg config.EstimatorConfig) *Estimator {
	return &Estimator{prober: prober, cfg: cfg}
}

// Estimate never fails: any probe error degrades to 2 chunks on cpu.
//
//	free < low  -> 4 chunks
//	free > high -> 2 chunks
//	otherwise   -> 3 chunks
//
// A positive cfg.Chunks overrides the count but not the device.
func (e *Estimator) Estimate(ctx context.Context) Estimate {
	est := Estimate{Chunks: 2, Device: DeviceCPU}

	if e.prober != nil {
		probeCtx := ctx
		if e.cfg.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, e.cfg.ProbeTimeout)
			defer cancel()
		}

		free, err := e.prober.QueryGPUFreeMemory(probeCtx)
		if err != nil {
			logger.L().Info("no usable accelerator, falling back to cpu", slog.String("reason", err.Error()))
		} else {
			est.Accelerator = true
			est.Device = DeviceCUDA
			est.FreeMemoryMiB = free
			switch {
			case free < e.cfg.LowMemoryMiB:
				est.Chunks = 4
			case free > e.cfg.HighMemoryMiB:
				est.Chunks = 2
			default:
				est.Chunks = 3
			}
		}
	}

	if e.cfg.Chunks > 0 {
		est.Chunks = e.cfg.Chunks
	}
	if est.Chunks < 1 {
		est.Chunks = 1
	}

	logger.L().Info("resource estimate",
		slog.Int("chunks", est.Chunks),
		slog.String("device", est.Device),
		slog.Int64("free_memory_mib", est.FreeMemoryMiB))
	return est
}
