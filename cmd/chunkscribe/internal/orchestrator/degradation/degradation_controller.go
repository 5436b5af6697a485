// Package degradation switches between a primary capability and a fallback
// based on health status, so callers never branch on which variant is active.
package degradation

import (
	"log/slog"
	"sync"

	"github.com/houzhh15/chunkscribe/cmd/chunkscribe/internal/orchestrator/health"
	"github.com/houzhh15/chunkscribe/pkg/logger"
	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

// Controller holds a primary and a fallback implementation of the same
// capability (e.g., FFmpegDecoder and WavDecoder). It starts on the primary
// and follows the health checker that monitors it.
//
// Thread-safety: All public methods are thread-safe via sync.RWMutex.
type Controller[T health.Probe] struct {
	primary       T
	fallback      T
	healthChecker *health.HealthChecker
	current       T
	mu            sync.RWMutex
	isDegraded    bool
}

// NewController creates a Controller. hc must monitor primary.
func NewController[T health.Probe](primary, fallback T, hc *health.HealthChecker) *Controller[T] {
	return &Controller[T]{
		primary:       primary,
		fallback:      fallback,
		healthChecker: hc,
		current:       primary,
	}
}

// Current returns the active implementation, switching to the fallback when
// the primary is unhealthy and back once it recovers.
func (c *Controller[T]) Current() T {
	status := c.healthChecker.GetStatus()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !status.IsHealthy && !c.isDegraded {
		logger.L().Warn("degrading to fallback",
			slog.String("from", c.primary.Name()),
			slog.String("to", c.fallback.Name()),
			slog.String("reason", status.ErrorMessage))
		metrics.RecordDegradationEvent(c.primary.Name(), c.fallback.Name())
		c.current = c.fallback
		c.isDegraded = true
	}

	if status.IsHealthy && c.isDegraded {
		logger.L().Info("recovering to primary", slog.String("primary", c.primary.Name()))
		metrics.RecordDegradationEvent(c.fallback.Name(), c.primary.Name())
		c.current = c.primary
		c.isDegraded = false
	}

	return c.current
}

// IsDegraded reports whether the fallback is active.
func (c *Controller[T]) IsDegraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isDegraded
}

// CurrentName returns the Name of the active implementation.
func (c *Controller[T]) CurrentName() string {
	return c.Current().Name()
}
