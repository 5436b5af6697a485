// Package health probes external capabilities (media decoder, inference
// backend) with configurable intervals and failure thresholds.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/chunkscribe/pkg/logger"
)

// Probe is anything that can report its own health.
// Both whisper.WhisperTranscriber and audio.MediaDecoder satisfy it.
type Probe interface {
	HealthCheck(ctx context.Context) (bool, error)
	Name() string
}

// ServiceStatus is the current health state of a probed capability.
type ServiceStatus struct {
	Name string `json:"name"`

	IsHealthy bool `json:"is_healthy"`

	LastCheckTime time.Time `json:"last_check_time"`

	// ConsecutiveFails resets to 0 when a check succeeds.
	ConsecutiveFails int `json:"consecutive_fails"`

	ErrorMessage string `json:"error_message"`
}

// HealthChecker performs health checks on a Probe, either once (CheckNow)
// or periodically (Start). All public methods are safe for concurrent use.
type HealthChecker struct {
	probe         Probe
	status        *ServiceStatus
	mu            sync.RWMutex
	checkInterval time.Duration
	checkTimeout  time.Duration
	failThreshold int
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewHealthChecker creates a HealthChecker. It starts in a healthy state;
// failThreshold consecutive failures mark the probe unhealthy.
func NewHealthChecker(probe Probe, checkInterval time.Duration, failThreshold int) *HealthChecker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &HealthChecker{
		probe:         probe,
		checkInterval: checkInterval,
		checkTimeout:  10 * time.Second,
		failThreshold: failThreshold,
		stopChan:      make(chan struct{}),
		status: &ServiceStatus{
			Name:          probe.Name(),
			IsHealthy:     true,
			LastCheckTime: time.Now(),
		},
	}
}

// Start performs an immediate check and then checks every interval until
// Stop is called or ctx is cancelled. It blocks; run it in a goroutine.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	hc.CheckNow(ctx)

	for {
		select {
		case <-ticker.C:
			hc.CheckNow(ctx)
		case <-hc.stopChan:
			logger.L().Info("health checker stopped", slog.String("probe", hc.probe.Name()))
			return
		case <-ctx.Done():
			logger.L().Info("health checker context cancelled", slog.String("probe", hc.probe.Name()))
			return
		}
	}
}

// CheckNow executes a single health check, updates the status and returns it.
func (hc *HealthChecker) CheckNow(ctx context.Context) ServiceStatus {
	checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	isHealthy, err := hc.probe.HealthCheck(checkCtx)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheckTime = time.Now()
	log := logger.L().With(slog.String("probe", hc.probe.Name()))

	if isHealthy {
		hc.status.IsHealthy = true
		hc.status.ConsecutiveFails = 0
		hc.status.ErrorMessage = ""
		log.Debug("health check passed")
		return *hc.status
	}

	hc.status.ConsecutiveFails++
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	hc.status.ErrorMessage = fmt.Sprintf("health check failed: %s", errMsg)

	if hc.status.ConsecutiveFails >= hc.failThreshold {
		hc.status.IsHealthy = false
		log.Error("marking unhealthy", slog.Int("consecutive_fails", hc.status.ConsecutiveFails), slog.String("error", errMsg))
	} else {
		log.Warn("health check failed",
			slog.Int("consecutive_fails", hc.status.ConsecutiveFails),
			slog.Int("threshold", hc.failThreshold),
			slog.String("error", errMsg))
	}
	return *hc.status
}

// GetStatus returns a copy of the current status.
func (hc *HealthChecker) GetStatus() ServiceStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return *hc.status
}

// Stop terminates the Start loop. Safe to call multiple times.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() { close(hc.stopChan) })
}
