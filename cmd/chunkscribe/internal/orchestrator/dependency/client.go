package dependency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoAccelerator is returned by QueryGPUFreeMemory when no GPU is visible.
var ErrNoAccelerator = errors.New("no accelerator detected")

// DependencyClient is a facade for the orchestrator to run external
// programs without knowing how they are executed.
//
// It provides high-level methods that encapsulate:
//   - Command construction
//   - Safety validation
//   - Executor invocation
//   - Error handling and reporting
type DependencyClient struct {
	executor DependencyExecutor
	config   ExecutorConfig
}

// NewClient creates a DependencyClient backed by a LocalExecutor.
func NewClient(config ExecutorConfig) *DependencyClient {
	return NewClientWithExecutor(NewLocalExecutor(config), config)
}

// NewClientWithExecutor creates a DependencyClient around an arbitrary executor.
func NewClientWithExecutor(executor DependencyExecutor, config ExecutorConfig) *DependencyClient {
	return &DependencyClient{executor: executor, config: config}
}

// ExtractAudio decodes any ffmpeg-readable container into a mono 16-bit PCM WAV.
//
// Example:
//
//	err := client.ExtractAudio(ctx, "/videos/lecture.mp4", "/tmp/run-1/source.wav", 16000)
func (c *DependencyClient) ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	in, err := filepath.Abs(inputPath)
	if err != nil {
		return fmt.Errorf("resolve input path: %w", err)
	}
	out, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	req := CommandRequest{
		Command: "ffmpeg",
		Args: []string{
			"-nostdin", "-y",
			"-i", in,
			"-vn",                  // drop video streams
			"-ac", "1",             // mono
			"-ar", strconv.Itoa(sampleRate),
			"-acodec", "pcm_s16le", // 16-bit PCM
			"-f", "wav",
			out,
		},
		Timeout: c.config.DefaultTimeout,
	}

	if err := ValidateCommandRequest(req, c.config); err != nil {
		return fmt.Errorf("command validation failed: %w", err)
	}

	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return fmt.Errorf("audio extraction failed: %w (stderr: %s)", err, tail(resp.Stderr, 512))
	}
	if !resp.Success || resp.ExitCode != 0 {
		return fmt.Errorf("audio extraction failed (exit code %d): %s", resp.ExitCode, tail(resp.Stderr, 512))
	}
	return nil
}

// QueryGPUFreeMemory returns the free memory of the first visible GPU in MiB.
// It returns ErrNoAccelerator when nvidia-smi is missing or lists no device.
func (c *DependencyClient) QueryGPUFreeMemory(ctx context.Context) (int64, error) {
	if err := c.executor.HealthCheck(ctx, "nvidia-smi"); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoAccelerator, err)
	}

	req := CommandRequest{
		Command: "nvidia-smi",
		Args:    []string{"--query-gpu=memory.free", "--format=csv,noheader,nounits"},
		Timeout: c.config.DefaultTimeout,
	}
	if err := ValidateCommandRequest(req, c.config); err != nil {
		return 0, fmt.Errorf("command validation failed: %w", err)
	}

	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("query gpu memory: %w", err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return 0, fmt.Errorf("%w: nvidia-smi exit code %d: %s", ErrNoAccelerator, resp.ExitCode, tail(resp.Stderr, 256))
	}
	return parseFreeMemory(resp.Stdout)
}

// HealthCheck verifies that command can be executed.
func (c *DependencyClient) HealthCheck(ctx context.Context, command string) error {
	return c.executor.HealthCheck(ctx, command)
}

// Config returns the executor configuration.
func (c *DependencyClient) Config() ExecutorConfig {
	return c.config
}

// parseFreeMemory reads the first non-empty line of nvidia-smi csv output.
func parseFreeMemory(out string) (int64, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(line, "MiB")), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse nvidia-smi output %q: %w", line, err)
		}
		return v, nil
	}
	return 0, ErrNoAccelerator
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
