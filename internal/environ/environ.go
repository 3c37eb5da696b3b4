// Package environ provides immutable environment values for build steps.
//
// A step derives the environment it needs with With and hands it to the
// command runner. The process environment is never modified, so overrides
// cannot leak past the step that created them, whether it succeeds or fails.
package environ

import (
	"os"
	"sort"
	"strings"
)

// Env is an immutable set of environment variables.
// The zero value is an empty environment.
type Env struct {
	vars map[string]string
}

// FromOS captures the environment of the current process.
func FromOS() Env {
	return FromList(os.Environ())
}

// FromList builds an Env from "KEY=VALUE" entries. Entries without '=' are ignored;
// later duplicates win.
func FromList(list []string) Env {
	vars := make(map[string]string, len(list))

	for _, entry := range list {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}

		vars[key] = value
	}

	return Env{vars: vars}
}

// New builds an Env from a map. The map is copied.
func New(vars map[string]string) Env {
	return Env{}.With(vars)
}

// With returns a copy of e with vars applied on top.
func (e Env) With(vars map[string]string) Env {
	merged := make(map[string]string, len(e.vars)+len(vars))

	for key, value := range e.vars {
		merged[key] = value
	}

	for key, value := range vars {
		merged[key] = value
	}

	return Env{vars: merged}
}

// Get returns the value of key.
func (e Env) Get(key string) (string, bool) {
	value, ok := e.vars[key]

	return value, ok
}

// Len returns the number of variables.
func (e Env) Len() int {
	return len(e.vars)
}

// Environ renders the environment as sorted "KEY=VALUE" entries.
func (e Env) Environ() []string {
	keys := make([]string, 0, len(e.vars))
	for key := range e.vars {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, key := range keys {
		list = append(list, key+"="+e.vars[key])
	}

	return list
}
