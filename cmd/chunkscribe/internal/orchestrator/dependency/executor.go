package dependency

import "context"

// DependencyExecutor executes external commands.
//
// Implementations:
//   - LocalExecutor: runs commands on the host with exec.CommandContext
//   - fakes in tests
type DependencyExecutor interface {
	// ExecuteCommand executes a command with the given request.
	// If the context is cancelled, the command must be terminated promptly.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// HealthCheck verifies that the executor can resolve the named command.
	HealthCheck(ctx context.Context, command string) error
}
