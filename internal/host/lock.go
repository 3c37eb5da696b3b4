package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-ps"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/logger"
)

const (
	defaultDirPermissions = 0o755

	// unreadableMarkerLifetime is how long a marker that cannot be parsed is
	// assumed to belong to a process still writing it.
	unreadableMarkerLifetime = 30 * time.Second
)

var (
	// ErrLocked is returned when another live process is working on the same package ID.
	ErrLocked = errors.New("package is locked by another process")

	errLockNotOwned     = errors.New("lock marker is owned by someone else")
	errIncompleteMarker = errors.New("incomplete lock marker")
)

// lockMarker is the content of a lock file.
type lockMarker struct {
	PID     int       `yaml:"pid"`
	Token   string    `yaml:"token"`
	Created time.Time `yaml:"created"`
}

type packageLock struct {
	path  string
	token string
}

func lockPath(dir, packageID string) string {
	return filepath.Join(dir, "."+packageID+".lock")
}

// acquireLock creates the lock marker for packageID in dir. A marker left by a
// process that no longer runs is removed and the acquisition retried once.
func acquireLock(ctx context.Context, dir, packageID string) (*packageLock, error) {
	path := lockPath(dir, packageID)

	marker := lockMarker{
		PID:     os.Getpid(),
		Token:   uuid.NewString(),
		Created: time.Now().UTC(),
	}

	data, err := yaml.Marshal(marker)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		err = writeExclusive(path, data)
		if err == nil {
			logger.DebugKV(ctx, "Lock acquired", "path", path)

			return &packageLock{path: path, token: marker.Token}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock marker: %w", err)
		}

		if !isStale(ctx, path) {
			break
		}

		logger.WarnKV(ctx, "Removing stale lock marker", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock marker: %w", err)
		}
	}

	return nil, fmt.Errorf("%s: %w", path, ErrLocked)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return err
	}

	return f.Close()
}

// isStale reports whether the marker at path belongs to a process that is gone.
func isStale(ctx context.Context, path string) bool {
	marker, err := readMarker(path)
	if err != nil {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return errors.Is(statErr, os.ErrNotExist)
		}

		return time.Since(info.ModTime()) > unreadableMarkerLifetime
	}

	process, err := ps.FindProcess(marker.PID)
	if err != nil {
		logger.DebugKV(ctx, "Unable to look up lock owner", "pid", marker.PID, "error", err)

		return false
	}

	return process == nil
}

func readMarker(path string) (*lockMarker, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var marker lockMarker
	if err = yaml.Unmarshal(data, &marker); err != nil {
		return nil, err
	}

	if marker.PID <= 0 || marker.Token == "" {
		return nil, fmt.Errorf("%s: %w", path, errIncompleteMarker)
	}

	return &marker, nil
}

// release removes the marker if it still carries this lock's token.
func (l *packageLock) release() error {
	marker, err := readMarker(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}

	if marker.Token != l.token {
		return errLockNotOwned
	}

	return os.Remove(l.path)
}
