package shell

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap/zapcore"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/oshokin/mpfr-recipe/internal/logger"
	"github.com/oshokin/mpfr-recipe/internal/pathconv"
)

// Interpreter runs commands through the mvdan.cc/sh interpreter.
// Standard output is logged at info level, standard error at warn level.
type Interpreter struct {
	// Bash is the bash executable used for WinBash commands on Windows.
	Bash string
	// Paths converts the working directory for the subsystem bash.
	Paths pathconv.Converter
}

// NewInterpreter creates an Interpreter for the current build machine.
func NewInterpreter(subsystem pathconv.Subsystem) *Interpreter {
	return &Interpreter{
		Bash:  "bash",
		Paths: pathconv.ForBuildMachine(subsystem),
	}
}

// Run implements Runner.
func (i *Interpreter) Run(ctx context.Context, cmd Command) error {
	script, err := i.script(cmd)
	if err != nil {
		return err
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "command")
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	stdout := logger.NewLineWriter(ctx, zapcore.InfoLevel)
	stderr := logger.NewLineWriter(ctx, zapcore.WarnLevel)

	defer func() {
		stdout.Flush()
		stderr.Flush()
	}()

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(cmd.Env.Environ()...)),
		interp.StdIO(nil, stdout, stderr),
	}

	if cmd.Dir != "" {
		opts = append(opts, interp.Dir(cmd.Dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("create interpreter: %w", err)
	}

	logger.InfoKV(ctx, "Running", "command", script, "dir", cmd.Dir)

	err = runner.Run(ctx, prog)
	if err == nil {
		return nil
	}

	var status interp.ExitStatus
	if errors.As(err, &status) {
		return &ExitError{Command: cmd.String(), Code: int(status)}
	}

	return fmt.Errorf("run %s: %w", cmd.String(), err)
}

// script renders the command line, wrapping it into a bash login shell for WinBash.
func (i *Interpreter) script(cmd Command) (string, error) {
	line, err := Line(cmd.Args)
	if err != nil {
		return "", err
	}

	if !cmd.WinBash || !i.Paths.Windows {
		return line, nil
	}

	inner := line
	if cmd.Dir != "" {
		dir, err := syntax.Quote(i.Paths.UnixPath(cmd.Dir), syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote directory: %w", err)
		}

		inner = "cd " + dir + " && " + line
	}

	return Line([]string{i.bash(), "--login", "-c", inner})
}

func (i *Interpreter) bash() string {
	if i.Bash != "" {
		return i.Bash
	}

	if runtime.GOOS == "windows" {
		return "bash.exe"
	}

	return "bash"
}
