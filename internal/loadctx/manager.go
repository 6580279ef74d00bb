// SPDX-License-Identifier: MPL-2.0

package loadctx

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/modhost/modhost/pkg/hostmod"
)

// DefaultBoundaryPrefixes always resolve from the host: they define the
// types shared across the module boundary.
var DefaultBoundaryPrefixes = []string{"github.com/modhost/modhost/pkg/"}

type (
	// ManagerOptions configures a Manager.
	ManagerOptions struct {
		Layout hostmod.Layout
		// BoundaryPrefixes defaults to DefaultBoundaryPrefixes when nil.
		BoundaryPrefixes []string
		// Host defaults to HostContextFromBuildInfo.
		Host   *HostContext
		Opener Opener
		Logger *log.Logger
	}

	// Manager hands out one Context per installed module version.
	Manager struct {
		layout   hostmod.Layout
		boundary []string
		host     *HostContext
		opener   Opener
		logger   *log.Logger

		group    singleflight.Group
		mu       sync.RWMutex
		contexts map[string]*Context
	}
)

// NewManager creates a Manager.
func NewManager(opts ManagerOptions) *Manager {
	boundary := opts.BoundaryPrefixes
	if boundary == nil {
		boundary = DefaultBoundaryPrefixes
	}
	host := opts.Host
	if host == nil {
		host = HostContextFromBuildInfo()
	}
	opener := opts.Opener
	if opener == nil {
		opener = PluginOpener{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{
		layout:   opts.Layout,
		boundary: append([]string(nil), boundary...),
		host:     host,
		opener:   opener,
		logger:   logger.WithPrefix("loadctx"),
		contexts: make(map[string]*Context),
	}
}

// Host returns the host context shared by every Context.
func (m *Manager) Host() *HostContext { return m.host }

func contextKey(id, version string) string { return id + "@" + version }

// Context returns the cached context for id@version, creating it from the
// installed manifest on first use. Concurrent first calls share one creation.
func (m *Manager) Context(id, version string) (*Context, error) {
	key := contextKey(id, version)
	m.mu.RLock()
	c, ok := m.contexts[key]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.RLock()
		c, ok := m.contexts[key]
		m.mu.RUnlock()
		if ok {
			return c, nil
		}

		if !m.layout.VersionInstalled(id, version) {
			return nil, fmt.Errorf("module %s is not installed", key)
		}
		dir := m.layout.VersionDir(id, version)
		manifest, err := hostmod.ReadManifest(dir)
		if err != nil {
			return nil, err
		}
		if manifest.ID != id || manifest.Version != version {
			return nil, fmt.Errorf("installed manifest at %s declares %s@%s", dir, manifest.ID, manifest.Version)
		}
		c, err = New(dir, *manifest, Options{
			BoundaryPrefixes: m.boundary,
			Host:             m.host,
			Opener:           m.opener,
			Logger:           m.logger,
		})
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.contexts[key] = c
		m.mu.Unlock()
		m.logger.Debug("load context created", "module", key)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

// Load instantiates the module installed as id@version.
func (m *Manager) Load(id, version string) (hostmod.Module, error) {
	c, err := m.Context(id, version)
	if err != nil {
		return nil, err
	}
	return c.Instantiate()
}

// Forget drops the cached context for id@version. Libraries already opened
// stay mapped in the process; only later lookups are affected.
func (m *Manager) Forget(id, version string) {
	m.mu.Lock()
	delete(m.contexts, contextKey(id, version))
	m.mu.Unlock()
}

// Len returns the number of cached contexts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}
