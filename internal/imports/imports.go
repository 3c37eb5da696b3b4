// Package imports copies files provided by dependencies into the build tree.
package imports

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/gobwas/glob"

	"github.com/oshokin/mpfr-recipe/internal/logger"

	// Register SHA-512 for checksum verification.
	_ "crypto/sha512"
)

var errHashUnavailable = errors.New("hash function unavailable")

const (
	// ChecksumFunction verifies every copied file.
	ChecksumFunction crypto.Hash = crypto.SHA512

	defaultDirPermissions = 0o755
)

// Copy copies every file below srcRoot whose slash-separated relative path
// matches pattern into dst, keeping the relative layout. Symlinks to files are
// followed.
// A missing srcRoot is not an error. It returns the copied destination paths.
func Copy(ctx context.Context, pattern, srcRoot, dst string) ([]string, error) {
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	if _, err = os.Stat(srcRoot); errors.Is(err, fs.ErrNotExist) {
		logger.DebugKV(ctx, "Nothing to import", "src", srcRoot)

		return nil, nil
	}

	var matches []string

	err = filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink == 0 {
				return nil
			}

			// Symlinks are copied as the file they point at.
			info, statErr := os.Stat(path)
			if statErr != nil || !info.Mode().IsRegular() {
				return nil //nolint:nilerr // Dangling links and links to directories are skipped.
			}
		}

		rel, relErr := filepath.Rel(srcRoot, path)
		if relErr != nil {
			return relErr
		}

		if matcher.Match(filepath.ToSlash(rel)) {
			matches = append(matches, rel)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", srcRoot, err)
	}

	sort.Strings(matches)

	copied := make([]string, 0, len(matches))

	for _, rel := range matches {
		target := filepath.Join(dst, rel)

		if err = copyFile(ctx, filepath.Join(srcRoot, rel), target); err != nil {
			return copied, err
		}

		copied = append(copied, target)
	}

	return copied, nil
}

// copyFile replaces target with the contents of source and checks the
// written bytes against the source checksum.
func copyFile(ctx context.Context, source, target string) error {
	logger.InfoKV(ctx, "Importing file", "src", source, "dst", target)

	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return err
	}

	checksum, err := Checksum(data)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(target), defaultDirPermissions); err != nil {
		return err
	}

	// go-update swaps the target out, so it has to exist first.
	if _, err = os.Stat(target); err != nil && errors.Is(err, fs.ErrNotExist) {
		f, createErr := os.Create(filepath.Clean(target))
		if createErr != nil {
			return createErr
		}

		_ = f.Close()
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: info.Mode().Perm(),
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("import %s: %w", filepath.Base(source), err)
	}

	oldFileName := target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// Checksum returns the ChecksumFunction digest of data.
func Checksum(data []byte) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := ChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
