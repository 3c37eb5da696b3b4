package fetch

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

var (
	// ErrUnsupportedArchive is returned for archives with an unknown extension.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrUnsafePath is returned when an archive entry would land outside the destination.
	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// Extract unpacks the tarball at archivePath into dest.
// The compression is chosen from the extension of name.
func Extract(archivePath, name, dest string) error {
	f, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	r, closeFn, err := decompress(f, name)
	if err != nil {
		return err
	}

	defer closeFn()

	return untar(r, dest)
}

func decompress(r io.Reader, name string) (io.Reader, func(), error) {
	noop := func() {}
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}

		return xr, noop, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip reader: %w", err)
		}

		return gr, func() { _ = gr.Close() }, nil
	case strings.HasSuffix(lower, ".tar"):
		return r, noop, nil
	default:
		return nil, nil, fmt.Errorf("%s: %w", name, ErrUnsupportedArchive)
	}
}

func untar(r io.Reader, dest string) error {
	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, defaultDirPermissions); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = writeFile(target, tr, hdr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err = writeSymlink(root, target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(root, hdr.Linkname)
			if err != nil {
				return err
			}

			if err = os.MkdirAll(filepath.Dir(target), defaultDirPermissions); err != nil {
				return err
			}

			_ = os.Remove(target)

			if err = os.Link(source, target); err != nil {
				return fmt.Errorf("link %s: %w", hdr.Name, err)
			}
		default:
			// Device nodes, fifos and pax headers are not part of source tarballs.
			continue
		}
	}
}

// writeFile keeps the entry mode and modification time: autotools trees rely on
// the relative timestamps of generated files.
func writeFile(target string, r io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), defaultDirPermissions); err != nil {
		return err
	}

	mode := hdr.FileInfo().Mode().Perm() | 0o200

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", hdr.Name, err)
	}

	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()

		return fmt.Errorf("write %s: %w", hdr.Name, err)
	}

	if err = f.Close(); err != nil {
		return err
	}

	if !hdr.ModTime.IsZero() {
		if err = os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
			return fmt.Errorf("set times on %s: %w", hdr.Name, err)
		}
	}

	return nil
}

func writeSymlink(root, target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}

	if !within(root, filepath.Clean(resolved)) {
		return fmt.Errorf("%s -> %s: %w", target, linkname, ErrUnsafePath)
	}

	if err := os.MkdirAll(filepath.Dir(target), defaultDirPermissions); err != nil {
		return err
	}

	_ = os.Remove(target)

	return os.Symlink(linkname, target)
}

func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, target) {
		return "", fmt.Errorf("%s: %w", name, ErrUnsafePath)
	}

	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
