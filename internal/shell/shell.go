package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/oshokin/mpfr-recipe/internal/environ"
)

// Command is one external tool invocation.
type Command struct {
	// Args holds the program and its arguments. Each element is passed verbatim.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is the complete environment of the command.
	Env environ.Env
	// WinBash runs the command through bash when the build machine is Windows.
	WinBash bool
}

// String renders the command as a quoted shell line.
func (c Command) String() string {
	line, err := Line(c.Args)
	if err != nil {
		return strings.Join(c.Args, " ")
	}

	return line
}

// Runner executes commands. Implementations must return *ExitError for
// non-zero exit statuses.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a command that finished with a non-zero status.
type ExitError struct {
	Command string
	Code    int
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
}

var errEmptyCommand = errors.New("empty command")

// Line quotes every argument and joins them into a POSIX command line.
func Line(args []string) (string, error) {
	if len(args) == 0 {
		return "", errEmptyCommand
	}

	quoted := make([]string, 0, len(args))

	for _, arg := range args {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", arg, err)
		}

		quoted = append(quoted, q)
	}

	return strings.Join(quoted, " "), nil
}
