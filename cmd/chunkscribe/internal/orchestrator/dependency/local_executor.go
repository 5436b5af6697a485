package dependency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/houzhh15/chunkscribe/pkg/metrics"
)

// LocalExecutor executes commands directly on the local system.
type LocalExecutor struct {
	config ExecutorConfig
}

// NewLocalExecutor creates a new LocalExecutor with the given configuration.
func NewLocalExecutor(config ExecutorConfig) *LocalExecutor {
	return &LocalExecutor{config: config}
}

// ExecuteCommand executes a command locally and returns the result.
func (e *LocalExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	binaryPath, err := e.resolveBinaryPath(req.Command)
	if err != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
		return CommandResponse{}, fmt.Errorf("failed to resolve binary path for %s: %w", req.Command, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binaryPath, req.Args...)
	cmd.Env = append(os.Environ(), e.buildEnvSlice(req.Env)...)
	// own process group so a timeout kills the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)
	metrics.RecordCommandDuration(req.Command, duration.Seconds())

	resp := CommandResponse{
		Success:  err == nil,
		ExitCode: e.getExitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		metrics.RecordCommandExecution(req.Command, "timeout")
		return resp, fmt.Errorf("command execution timeout (%v): %s: %w", timeout, req.Command, context.DeadlineExceeded)
	}

	if err != nil {
		metrics.RecordCommandExecution(req.Command, "failed")
	} else {
		metrics.RecordCommandExecution(req.Command, "success")
	}
	return resp, err
}

// HealthCheck verifies that the binary for command can be resolved.
func (e *LocalExecutor) HealthCheck(ctx context.Context, command string) error {
	path, err := e.resolveBinaryPath(command)
	if err != nil {
		return fmt.Errorf("command %s not available: %w", command, err)
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("command %s not available at %s: %w", command, path, err)
	}
	return nil
}

func (e *LocalExecutor) resolveBinaryPath(command string) (string, error) {
	if path, ok := e.config.LocalBinaryPaths[command]; ok && path != "" {
		return path, nil
	}
	return exec.LookPath(command)
}

func (e *LocalExecutor) buildEnvSlice(envMap map[string]string) []string {
	var result []string
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

func (e *LocalExecutor) getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
