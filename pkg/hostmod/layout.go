// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/modhost/modhost/pkg/semver"
)

const (
	// PackagesDirName holds the retained original archives.
	PackagesDirName = "packages"
	// InstalledDirName holds exploded module versions.
	InstalledDirName = "installed"
	// StagingDirName holds ephemeral extraction targets.
	StagingDirName = "staging"
	// StateFileName is the persisted module state document.
	StateFileName = "modules.json"
	// ManifestFileName is the manifest at the root of every package.
	ManifestFileName = "manifest.json"
	// LibDirName holds a package's binary payload.
	LibDirName = "lib"
	// DefaultPackageExt is used when an upload carries no usable extension.
	DefaultPackageExt = "zip"
)

// Layout is the filesystem convention under a single root directory:
//
//	<root>/packages/<id>/<version>.<ext>
//	<root>/installed/<id>/<version>/
//	<root>/staging/<uuid>/
//	<root>/modules.json
type Layout struct {
	Root string
}

// NewLayout resolves root to an absolute path.
func NewLayout(root string) (Layout, error) {
	if strings.TrimSpace(root) == "" {
		return Layout{}, errors.New("layout root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve layout root: %w", err)
	}
	return Layout{Root: abs}, nil
}

// Ensure creates the root and its fixed subdirectories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.PackagesDir(), l.InstalledDir(), l.StagingDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// PackagesDir returns <root>/packages.
func (l Layout) PackagesDir() string { return filepath.Join(l.Root, PackagesDirName) }

// InstalledDir returns <root>/installed.
func (l Layout) InstalledDir() string { return filepath.Join(l.Root, InstalledDirName) }

// StagingDir returns <root>/staging.
func (l Layout) StagingDir() string { return filepath.Join(l.Root, StagingDirName) }

// StatePath returns the state document path.
func (l Layout) StatePath() string { return filepath.Join(l.Root, StateFileName) }

// ModuleDir returns installed/<id>.
func (l Layout) ModuleDir(id string) string { return filepath.Join(l.InstalledDir(), id) }

// VersionDir returns installed/<id>/<version>.
func (l Layout) VersionDir(id, version string) string {
	return filepath.Join(l.InstalledDir(), id, version)
}

// PackageDir returns packages/<id>.
func (l Layout) PackageDir(id string) string { return filepath.Join(l.PackagesDir(), id) }

// PackagePath returns packages/<id>/<version>.<ext>.
func (l Layout) PackagePath(id, version, ext string) string {
	return filepath.Join(l.PackageDir(id), version+"."+ext)
}

// NewStagingDir creates a uniquely named directory under staging/.
func (l Layout) NewStagingDir() (string, error) {
	dir := filepath.Join(l.StagingDir(), uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// VersionInstalled reports whether installed/<id>/<version> is a directory.
func (l Layout) VersionInstalled(id, version string) bool {
	info, err := os.Stat(l.VersionDir(id, version))
	return err == nil && info.IsDir()
}

// InstalledVersions lists the version directories present on disk for id,
// ordered by version. Entries that are not valid versions are skipped.
func (l Layout) InstalledVersions(id string) ([]string, error) {
	entries, err := os.ReadDir(l.ModuleDir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list installed versions of %s: %w", id, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && semver.IsValid(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	slices.SortFunc(versions, semver.CompareStrings)
	return versions, nil
}

// InstalledModules lists the module ids that have a directory under installed/.
func (l Layout) InstalledModules() ([]string, error) {
	entries, err := os.ReadDir(l.InstalledDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list installed modules: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// PackageExt derives the archive extension from an uploaded file name.
func PackageExt(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" || !moduleIDRegex.MatchString(ext) || strings.Trim(ext, ".") == "" {
		return DefaultPackageExt
	}
	return ext
}
