// SPDX-License-Identifier: MPL-2.0

package pkgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modhost/modhost/pkg/hostmod"
)

type (
	// Store retains the original archives that were installed.
	Store interface {
		// Put stores data unless an archive for id@version.ext already exists.
		// It reports whether anything was written.
		Put(ctx context.Context, id, version, ext string, data []byte) (bool, error)
		// Has reports whether any archive for id@version is retained.
		Has(ctx context.Context, id, version string) (bool, error)
		// Delete removes every retained archive for id@version.
		Delete(ctx context.Context, id, version string) error
		// DeleteModule removes every retained archive for id.
		DeleteModule(ctx context.Context, id string) error
	}

	// FSStore keeps archives under the layout's packages directory.
	FSStore struct {
		layout hostmod.Layout
	}
)

// NewFSStore returns a filesystem-backed archive store.
func NewFSStore(layout hostmod.Layout) *FSStore {
	return &FSStore{layout: layout}
}

// Put writes packages/<id>/<version>.<ext> through a temp file and rename.
func (s *FSStore) Put(ctx context.Context, id, version, ext string, data []byte) (stored bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target := s.layout.PackagePath(id, version, ext)
	if _, statErr := os.Stat(target); statErr == nil {
		return false, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create package directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+version+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("failed to create temp package file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write package: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to write package: %w", err)
	}
	if err = os.Rename(tmpPath, target); err != nil {
		return false, fmt.Errorf("failed to store package: %w", err)
	}
	return true, nil
}

// Has reports whether packages/<id>/<version>.* exists.
func (s *FSStore) Has(ctx context.Context, id, version string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	matches, err := s.matches(id, version)
	return len(matches) > 0, err
}

// Delete removes packages/<id>/<version>.* and the id directory once empty.
func (s *FSStore) Delete(ctx context.Context, id, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	matches, err := s.matches(id, version)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		// Fails harmlessly while other versions remain.
		_ = os.Remove(s.layout.PackageDir(id))
	}
	return errors.Join(errs...)
}

// DeleteModule removes packages/<id>.
func (s *FSStore) DeleteModule(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.RemoveAll(s.layout.PackageDir(id))
}

// matches lists packages/<id>/<version>.<ext> for any ext, skipping
// in-flight temp files.
func (s *FSStore) matches(id, version string) ([]string, error) {
	dir := s.layout.PackageDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up packages for %s@%s: %w", id, version, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		ext := filepath.Ext(name)
		if e.IsDir() || ext == "" || ext == ".tmp" || strings.TrimSuffix(name, ext) != version {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
