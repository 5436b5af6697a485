package dependency

import (
	"fmt"
	"path/filepath"
	"strings"
)

var forbiddenPrefixes = []string{"/etc/", "/sys/", "/proc/"}

// ValidateCommandRequest performs safety checks before command execution:
//  1. Command whitelist (if configured)
//  2. No ".." path elements and no system directory arguments
//
// Client methods call it after building a CommandRequest and before handing
// it to the executor.
func ValidateCommandRequest(req CommandRequest, config ExecutorConfig) error {
	if len(config.AllowedCommands) > 0 {
		allowed := false
		for _, cmd := range config.AllowedCommands {
			if req.Command == cmd {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("command %s is not in whitelist (allowed: %v)", req.Command, config.AllowedCommands)
		}
	}

	for _, arg := range req.Args {
		for _, elem := range strings.Split(filepath.ToSlash(arg), "/") {
			if elem == ".." {
				return fmt.Errorf("argument contains '..' path element: %s", arg)
			}
		}
		for _, prefix := range forbiddenPrefixes {
			if strings.HasPrefix(arg, prefix) {
				return fmt.Errorf("argument attempts to access forbidden system directory %s: %s", prefix, arg)
			}
		}
	}

	return nil
}
