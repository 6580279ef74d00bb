// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/modhost/modhost/pkg/semver"
)

// ErrUnknownBuiltIn is returned when a catalog lookup misses.
var ErrUnknownBuiltIn = errors.New("unknown built-in module")

type (
	// Factory creates a built-in module instance.
	Factory func() Module

	// BuiltIn is a module compiled into the host binary.
	BuiltIn struct {
		Manifest Manifest
		New      Factory
	}

	// Catalog is the fixed set of built-in modules. Built-ins are pinned to the
	// host version: their manifest version is rewritten on lookup.
	Catalog struct {
		mu      sync.RWMutex
		modules map[string]BuiltIn
	}
)

// NewCatalog returns a catalog containing the given built-ins.
func NewCatalog(builtins ...BuiltIn) (*Catalog, error) {
	c := &Catalog{modules: make(map[string]BuiltIn, len(builtins))}
	for _, b := range builtins {
		if err := c.Register(b); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register validates and adds a built-in.
func (c *Catalog) Register(b BuiltIn) error {
	if b.New == nil {
		return fmt.Errorf("built-in %q has no factory", b.Manifest.ID)
	}
	m := b.Manifest
	m.Normalize()
	if m.Version == "" {
		// Built-ins may omit the version; it is pinned at lookup time.
		m.Version = "0.0.0"
	}
	if err := m.Validate(ValidateOptions{BuiltIn: true}); err != nil {
		return err
	}
	b.Manifest = m

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.modules[m.ID]; exists {
		return fmt.Errorf("built-in %q registered twice", m.ID)
	}
	c.modules[m.ID] = b
	return nil
}

// IsBuiltIn reports whether id is reserved by a built-in.
func (c *Catalog) IsBuiltIn(id string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modules[id]
	return ok
}

// Lookup returns the built-in registered under id.
func (c *Catalog) Lookup(id string) (BuiltIn, bool) {
	if c == nil {
		return BuiltIn{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.modules[id]
	return b, ok
}

// Manifest returns the built-in's manifest with its version pinned to host.
func (c *Catalog) Manifest(id string, host semver.Version) (Manifest, error) {
	b, ok := c.Lookup(id)
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %s", ErrUnknownBuiltIn, id)
	}
	m := b.Manifest
	m.Version = host.String()
	m.Dependencies = slices.Clone(m.Dependencies)
	return m, nil
}

// IDs returns every built-in id in sorted order.
func (c *Catalog) IDs() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.modules))
	for id := range c.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
