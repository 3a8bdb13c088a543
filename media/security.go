package media

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitExtraArgs securely splits operator-configured extra ffmpeg arguments
// into a slice. It never goes through a shell, and rejects arguments that
// smell like shell metacharacter abuse anyway.
func SplitExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid extra args syntax: %w", err)
	}
	if err := ValidateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// ValidateArgs checks split arguments for potential security risks.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
