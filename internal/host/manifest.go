package host

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
)

// Manifest describes a finished package.
type Manifest struct {
	pkgmeta.Identity `yaml:",inline"`

	PackageID string           `yaml:"package_id"`
	Settings  pkgmeta.Settings `yaml:"settings"`
	Options   pkgmeta.Options  `yaml:"options"`
	// Requires maps requirement names to the resolved references.
	Requires map[string]string `yaml:"requires"`
	CppInfo  *pkgmeta.CppInfo  `yaml:"cpp_info"`
	// Files maps slash-separated package paths to base64 SHA-512 checksums.
	Files map[string]string `yaml:"files"`
	// Links maps slash-separated symlink paths to their targets as stored on disk.
	Links map[string]string `yaml:"links,omitempty"`
}

// ManifestFilename returns the manifest name for a package, e.g. "mpfrinfo.yaml".
func ManifestFilename(name string) string {
	return name + "info.yaml"
}

// WriteManifest checksums the package folder and writes the manifest into it.
func WriteManifest(hc *Context, info *pkgmeta.CppInfo) (string, error) {
	filename := ManifestFilename(hc.Identity.Name)

	files, links, err := checksumTree(hc.PackageFolder, filename)
	if err != nil {
		return "", err
	}

	manifest := Manifest{
		Identity:  hc.Identity,
		PackageID: hc.PackageID,
		Settings:  hc.Settings,
		Options:   hc.Options,
		Requires:  requirementVersions(hc.Deps),
		CppInfo:   info,
		Files:     files,
		Links:     links,
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(hc.PackageFolder, filename)
	if err = os.WriteFile(path, data, config.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &manifest, nil
}

// checksumTree hashes every regular file below root except skip and records
// the target of every symlink.
func checksumTree(root, skip string) (map[string]string, map[string]string, error) {
	var paths []string

	links := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read link %s: %w", rel, err)
			}

			links[filepath.ToSlash(rel)] = filepath.ToSlash(target)
		case d.Type().IsRegular() && rel != skip:
			paths = append(paths, rel)
		}

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk package folder: %w", err)
	}

	sort.Strings(paths)

	files := make(map[string]string, len(paths))

	for _, rel := range paths {
		sum, err := fileChecksum(filepath.Join(root, rel))
		if err != nil {
			return nil, nil, err
		}

		files[filepath.ToSlash(rel)] = sum
	}

	if len(links) == 0 {
		links = nil
	}

	return files, links, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	defer func() {
		_ = f.Close()
	}()

	hasher := sha512.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
