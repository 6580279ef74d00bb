// SPDX-License-Identifier: MPL-2.0

package statestore

import (
	"slices"
	"time"

	"github.com/modhost/modhost/pkg/semver"
)

// SchemaVersion is written into every saved document.
const SchemaVersion = 1

type (
	// State is the persisted module state document.
	State struct {
		SchemaVersion int       `json:"schemaVersion"`
		UpdatedAt     time.Time `json:"updatedAt"`
		Modules       []Item    `json:"modules"`
	}

	// Item is the persisted record for one module id.
	Item struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
		// ActiveVersion is the version the host loads; empty when unset.
		ActiveVersion string `json:"activeVersion,omitempty"`
		// LastGoodVersion is the previous active version kept for rollback.
		LastGoodVersion   string   `json:"lastGoodVersion,omitempty"`
		InstalledVersions []string `json:"installedVersions"`
		BuiltIn           bool     `json:"builtIn,omitempty"`
	}
)

// NewState returns an empty document.
func NewState() *State {
	return &State{SchemaVersion: SchemaVersion, Modules: []Item{}}
}

// Find returns a pointer to the item for id, or nil. The pointer is only
// valid until the next Upsert or Remove.
func (s *State) Find(id string) *Item {
	for i := range s.Modules {
		if s.Modules[i].ID == id {
			return &s.Modules[i]
		}
	}
	return nil
}

// Get returns a copy of the item for id.
func (s *State) Get(id string) (Item, bool) {
	if it := s.Find(id); it != nil {
		return it.Clone(), true
	}
	return Item{}, false
}

// Upsert returns the item for id, appending a fresh one when absent.
func (s *State) Upsert(id string) *Item {
	if it := s.Find(id); it != nil {
		return it
	}
	s.Modules = append(s.Modules, Item{ID: id, InstalledVersions: []string{}})
	return &s.Modules[len(s.Modules)-1]
}

// Remove drops the item for id and reports whether it existed.
func (s *State) Remove(id string) bool {
	before := len(s.Modules)
	s.Modules = slices.DeleteFunc(s.Modules, func(it Item) bool { return it.ID == id })
	return len(s.Modules) != before
}

// Clone returns a deep copy of the document.
func (s *State) Clone() *State {
	out := &State{SchemaVersion: s.SchemaVersion, UpdatedAt: s.UpdatedAt, Modules: make([]Item, len(s.Modules))}
	for i, it := range s.Modules {
		out.Modules[i] = it.Clone()
	}
	return out
}

// Clone returns a copy that shares no slices with it.
func (it Item) Clone() Item {
	it.InstalledVersions = slices.Clone(it.InstalledVersions)
	if it.InstalledVersions == nil {
		it.InstalledVersions = []string{}
	}
	return it
}

// HasVersion reports whether v is listed as installed.
func (it *Item) HasVersion(v string) bool {
	return slices.Contains(it.InstalledVersions, v)
}

// AddVersion records v as installed, keeping the list sorted by version.
func (it *Item) AddVersion(v string) {
	if it.HasVersion(v) {
		return
	}
	it.InstalledVersions = append(it.InstalledVersions, v)
	slices.SortFunc(it.InstalledVersions, semver.CompareStrings)
}

// RemoveVersion drops v from the installed list.
func (it *Item) RemoveVersion(v string) {
	it.InstalledVersions = slices.DeleteFunc(it.InstalledVersions, func(s string) bool { return s == v })
}

// SetActive switches the active version. The outgoing version becomes the
// last good version only when it differs from v and the module is enabled;
// a version that was never enabled has not proven itself.
func (it *Item) SetActive(v string) {
	if it.Enabled && it.ActiveVersion != "" && it.ActiveVersion != v {
		it.LastGoodVersion = it.ActiveVersion
	}
	it.ActiveVersion = v
}

// normalize restores invariants a hand-edited document may have lost.
func (s *State) normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	if s.Modules == nil {
		s.Modules = []Item{}
	}
	for i := range s.Modules {
		it := &s.Modules[i]
		if it.InstalledVersions == nil {
			it.InstalledVersions = []string{}
		}
		it.InstalledVersions = slices.Compact(slices.SortedFunc(slices.Values(it.InstalledVersions), semver.CompareStrings))
	}
}
