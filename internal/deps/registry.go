package deps

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
)

var (
	// ErrNotFound is returned when no provided dependency satisfies a reference.
	ErrNotFound = errors.New("dependency not found")
	// ErrNotResolved is returned when asking for a dependency that was not resolved.
	ErrNotResolved = errors.New("dependency not resolved")
)

// Dependency is an already built package available on disk.
type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	User    string `yaml:"user,omitempty"`
	Channel string `yaml:"channel,omitempty"`
	// Root is the package folder: the install prefix the dependency was packaged into.
	Root string `yaml:"root"`
	// CppInfo overrides the default layout; nil means include/, lib/, bin/ and libs=[Name].
	CppInfo *pkgmeta.CppInfo `yaml:"cpp_info,omitempty"`
}

// Ref returns the concrete reference of the dependency.
func (d *Dependency) Ref() Reference {
	return Reference{Name: d.Name, Version: d.Version, User: d.User, Channel: d.Channel}
}

// Info returns the declared cpp_info, or the default layout.
func (d *Dependency) Info() *pkgmeta.CppInfo {
	if d.CppInfo != nil {
		return d.CppInfo
	}

	info := pkgmeta.DefaultCppInfo()
	info.Libs = []string{d.Name}

	return info
}

// IncludePaths returns absolute include directories.
func (d *Dependency) IncludePaths() []string {
	return d.join(d.Info().IncludeDirs)
}

// LibPaths returns absolute library directories.
func (d *Dependency) LibPaths() []string {
	return d.join(d.Info().LibDirs)
}

// BinPaths returns absolute binary directories.
func (d *Dependency) BinPaths() []string {
	return d.join(d.Info().BinDirs)
}

func (d *Dependency) join(dirs []string) []string {
	paths := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		paths = append(paths, filepath.Join(d.Root, dir))
	}

	return paths
}

// matches reports whether d satisfies ref. An empty user/channel on d matches any.
func (d *Dependency) matches(ref Reference, c *semver.Constraints) (*semver.Version, bool) {
	if d.Name != ref.Name {
		return nil, false
	}

	if d.User != "" && (d.User != ref.User || d.Channel != ref.Channel) {
		return nil, false
	}

	v, err := semver.NewVersion(d.Version)
	if err != nil {
		return nil, false
	}

	return v, c.Check(v)
}

// Registry resolves references against a fixed set of provided dependencies.
type Registry struct {
	deps []*Dependency
}

// NewRegistry creates a registry over the given dependencies.
func NewRegistry(provided []Dependency) *Registry {
	r := &Registry{deps: make([]*Dependency, 0, len(provided))}

	for i := range provided {
		dep := provided[i]
		r.deps = append(r.deps, &dep)
	}

	return r
}

// Resolve returns the highest provided version satisfying ref.
func (r *Registry) Resolve(ref Reference) (*Dependency, error) {
	c, err := ref.Constraint()
	if err != nil {
		return nil, err
	}

	var (
		best        *Dependency
		bestVersion *semver.Version
	)

	for _, dep := range r.deps {
		v, ok := dep.matches(ref, c)
		if !ok {
			continue
		}

		if best == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = dep, v
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}

	return best, nil
}

// ResolveAll resolves every reference; the first failure aborts.
func (r *Registry) ResolveAll(refs []Reference) (Resolved, error) {
	resolved := make(Resolved, len(refs))

	for _, ref := range refs {
		dep, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}

		resolved[ref.Name] = dep
	}

	return resolved, nil
}

// Resolved maps dependency names to the packages chosen for them.
type Resolved map[string]*Dependency

// Get returns the resolved dependency by name.
func (r Resolved) Get(name string) (*Dependency, error) {
	dep, ok := r[name]
	if !ok || dep == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotResolved)
	}

	return dep, nil
}

// RootPath returns the package folder of the named dependency.
func (r Resolved) RootPath(name string) (string, error) {
	dep, err := r.Get(name)
	if err != nil {
		return "", err
	}

	return dep.Root, nil
}

// Sorted returns the resolved dependencies ordered by name.
func (r Resolved) Sorted() []*Dependency {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}

	sort.Strings(names)

	sorted := make([]*Dependency, 0, len(names))
	for _, name := range names {
		sorted = append(sorted, r[name])
	}

	return sorted
}
