// Package dependency runs the external programs chunkscribe relies on
// (ffmpeg for media extraction, nvidia-smi for accelerator probing) behind a
// small executor abstraction so they can be faked in tests.
package dependency

import "time"

// CommandRequest encapsulates all information needed to execute a command.
type CommandRequest struct {
	// Command is the binary name or alias (e.g., "ffmpeg", "nvidia-smi").
	Command string `json:"command" yaml:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args" yaml:"args"`

	// Env contains extra environment variables to set.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Timeout is the maximum execution duration (0 means ExecutorConfig.DefaultTimeout).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// CommandResponse contains the result of a command execution.
type CommandResponse struct {
	Success  bool          `json:"success" yaml:"success"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Stdout   string        `json:"stdout" yaml:"stdout"`
	Stderr   string        `json:"stderr" yaml:"stderr"`
	Duration time.Duration `json:"duration_ms" yaml:"duration_ms"`
}

// ExecutorConfig defines the configuration for dependency execution.
type ExecutorConfig struct {
	// LocalBinaryPaths maps command names to binary paths
	// (e.g., {"ffmpeg": "/usr/local/bin/ffmpeg"}). Unmapped commands are looked up in PATH.
	LocalBinaryPaths map[string]string `json:"local_binary_paths" yaml:"local_binary_paths"`

	// DefaultTimeout is the default execution timeout for all commands.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// AllowedCommands lists the commands that are permitted to execute.
	// Empty list means allow all.
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands"`
}
