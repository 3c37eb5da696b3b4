// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/oshokin/mpfr-recipe/internal/shell"
)

// Recorder records commands instead of running them.
type Recorder struct {
	mu       sync.Mutex
	commands []shell.Command

	// Fail returns an error for a command, or nil to let it succeed.
	Fail func(cmd shell.Command) error
}

// Run implements shell.Runner.
func (r *Recorder) Run(_ context.Context, cmd shell.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	fail := r.Fail
	r.mu.Unlock()

	if fail != nil {
		return fail(cmd)
	}

	return nil
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]shell.Command(nil), r.commands...)
}

// Programs returns the first argument of every recorded command.
func (r *Recorder) Programs() []string {
	commands := r.Commands()

	programs := make([]string, 0, len(commands))
	for _, cmd := range commands {
		if len(cmd.Args) > 0 {
			programs = append(programs, cmd.Args[0])
		}
	}

	return programs
}

// FindBySuffix returns the first command whose program ends with suffix.
func (r *Recorder) FindBySuffix(suffix string) (shell.Command, bool) {
	for _, cmd := range r.Commands() {
		if len(cmd.Args) > 0 && strings.HasSuffix(cmd.Args[0], suffix) {
			return cmd, true
		}
	}

	return shell.Command{}, false
}
