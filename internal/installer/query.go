// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/modhost/modhost/internal/statestore"
)

// DriftKind names a disagreement between the state document and the disk.
type DriftKind string

const (
	// DriftMissingFiles: state lists a version whose directory is gone.
	DriftMissingFiles DriftKind = "missing-files"
	// DriftUntracked: a version directory exists that state does not list.
	DriftUntracked DriftKind = "untracked"
	// DriftActiveNotInstalled: the active version is not among the installed ones.
	DriftActiveNotInstalled DriftKind = "active-not-installed"
)

// Drift is one problem reported by Verify.
type Drift struct {
	ID      string    `json:"id" yaml:"id"`
	Version string    `json:"version" yaml:"version"`
	Kind    DriftKind `json:"kind" yaml:"kind"`
}

// List returns every known module: the state entries followed by built-ins
// that were never enabled, which are reported disabled and pinned to the
// host version.
func (i *Installer) List(ctx context.Context) ([]statestore.Item, error) {
	s, err := i.state.Load(ctx)
	if err != nil {
		return nil, i.stateError("list", "", err)
	}
	items := make([]statestore.Item, 0, len(s.Modules))
	for _, it := range s.Modules {
		items = append(items, it.Clone())
	}
	for _, id := range i.catalog.IDs() {
		if s.Find(id) == nil {
			items = append(items, i.builtInItem(id))
		}
	}
	return items, nil
}

// Get returns the entry for id.
func (i *Installer) Get(ctx context.Context, id string) (statestore.Item, error) {
	if id == "" {
		return statestore.Item{}, invalidArgument("get", "module id is required")
	}
	s, err := i.state.Load(ctx)
	if err != nil {
		return statestore.Item{}, i.stateError("get", id, err)
	}
	if it, ok := s.Get(id); ok {
		return it, nil
	}
	if i.catalog.IsBuiltIn(id) {
		return i.builtInItem(id), nil
	}
	return statestore.Item{}, newError("get", id, KindNotFound, ErrNotInstalled, "module is not installed")
}

func (i *Installer) builtInItem(id string) statestore.Item {
	host := i.host.String()
	return statestore.Item{ID: id, BuiltIn: true, ActiveVersion: host, InstalledVersions: []string{host}}
}

// Verify compares the state document with installed/ and reports every
// disagreement. It changes nothing.
func (i *Installer) Verify(ctx context.Context) (drifts []Drift, err error) {
	defer i.track(opVerify, time.Now(), &err)

	s, err := i.state.Load(ctx)
	if err != nil {
		return nil, i.stateError(opVerify, "", err)
	}

	for _, it := range s.Modules {
		if it.BuiltIn {
			continue
		}
		for _, v := range it.InstalledVersions {
			if !i.layout.VersionInstalled(it.ID, v) {
				drifts = append(drifts, Drift{ID: it.ID, Version: v, Kind: DriftMissingFiles})
			}
		}
		if it.ActiveVersion != "" && !it.HasVersion(it.ActiveVersion) {
			drifts = append(drifts, Drift{ID: it.ID, Version: it.ActiveVersion, Kind: DriftActiveNotInstalled})
		}
	}

	ids, err := i.layout.InstalledModules()
	if err != nil {
		return nil, fsError(opVerify, "", "list installed modules", i.layout.InstalledDir(), err)
	}
	for _, id := range ids {
		versions, err := i.layout.InstalledVersions(id)
		if err != nil {
			return nil, fsError(opVerify, id, "list installed versions", i.layout.ModuleDir(id), err)
		}
		it := s.Find(id)
		for _, v := range versions {
			if it == nil || !it.HasVersion(v) {
				drifts = append(drifts, Drift{ID: id, Version: v, Kind: DriftUntracked})
			}
		}
	}

	slices.SortFunc(drifts, func(a, b Drift) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return drifts, nil
}
