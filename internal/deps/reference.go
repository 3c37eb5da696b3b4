package deps

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidReference is returned for malformed references.
var ErrInvalidReference = errors.New("invalid reference")

// Reference identifies a required package.
type Reference struct {
	Name    string
	Version string
	User    string
	Channel string
}

// ParseReference parses "name/version[@user/channel]".
func ParseReference(s string) (Reference, error) {
	var ref Reference

	nameVersion, userChannel, hasUser := strings.Cut(strings.TrimSpace(s), "@")

	name, version, ok := strings.Cut(nameVersion, "/")
	if !ok || name == "" || version == "" {
		return ref, fmt.Errorf("%w %q: expected name/version", ErrInvalidReference, s)
	}

	ref.Name = name
	ref.Version = version

	if hasUser {
		user, channel, ok := strings.Cut(userChannel, "/")
		if !ok || user == "" || channel == "" {
			return ref, fmt.Errorf("%w %q: expected @user/channel", ErrInvalidReference, s)
		}

		ref.User = user
		ref.Channel = channel
	}

	if ref.IsRange() {
		if _, err := ref.Constraint(); err != nil {
			return ref, err
		}
	}

	return ref, nil
}

// MustParseReference is like ParseReference but panics on malformed input.
// It is meant for references hard-coded in recipes.
func MustParseReference(s string) Reference {
	ref, err := ParseReference(s)
	if err != nil {
		panic(err)
	}

	return ref
}

// String renders the reference in its canonical form.
func (r Reference) String() string {
	s := r.Name + "/" + r.Version
	if r.User != "" {
		s += "@" + r.User + "/" + r.Channel
	}

	return s
}

// IsRange reports whether the version is a bracketed range.
func (r Reference) IsRange() bool {
	return strings.HasPrefix(r.Version, "[") && strings.HasSuffix(r.Version, "]")
}

// Constraint returns the semver constraint the version expresses.
// An exact version becomes an equality constraint.
func (r Reference) Constraint() (*semver.Constraints, error) {
	expr := r.Version
	if r.IsRange() {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	} else {
		expr = "=" + expr
	}

	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: version range: %w", ErrInvalidReference, r.String(), err)
	}

	return c, nil
}
