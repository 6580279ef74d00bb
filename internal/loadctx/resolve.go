// SPDX-License-Identifier: MPL-2.0

package loadctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
)

// DependencyManifestSuffix is appended to the entry library's base name to
// locate its dependency manifest inside lib/.
const DependencyManifestSuffix = ".deps.json"

// Source tells where a library name was resolved from.
type Source int

const (
	// SourceNone means nothing matched.
	SourceNone Source = iota
	// SourceHost means the name belongs to the host and must not be loaded
	// privately by the module.
	SourceHost
	// SourceDependencyManifest means the module's dependency manifest mapped
	// the name to a file.
	SourceDependencyManifest
	// SourceProbe means a same-directory file matched by name.
	SourceProbe
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourceHost:
		return "host"
	case SourceDependencyManifest:
		return "dependency-manifest"
	case SourceProbe:
		return "probe"
	default:
		return "none"
	}
}

// Resolution is the outcome of resolving one library name.
// Path is empty unless Source is SourceDependencyManifest or SourceProbe.
type Resolution struct {
	Name   string
	Source Source
	Path   string
}

// Found reports whether the module itself supplies the library.
func (r Resolution) Found() bool {
	return r.Source == SourceDependencyManifest || r.Source == SourceProbe
}

type (
	// DependencyManifest maps library names to files shipped with a module.
	// Paths are relative to the directory holding the entry library.
	DependencyManifest struct {
		Libraries map[string]string `json:"libraries,omitempty"`
		Native    map[string]string `json:"native,omitempty"`
	}

	// HostContext is the set of library names the host process already
	// provides. A name matches when it equals a registered name or lives
	// underneath it as a path.
	HostContext struct {
		mu    sync.RWMutex
		names map[string]struct{}
	}
)

// ReadDependencyManifest reads path. A missing file yields an empty manifest.
func ReadDependencyManifest(path string) (*DependencyManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &DependencyManifest{}, nil
		}
		return nil, fmt.Errorf("failed to read dependency manifest: %w", err)
	}
	var dm DependencyManifest
	if err := json.Unmarshal(data, &dm); err != nil {
		return nil, fmt.Errorf("invalid dependency manifest %s: %w", path, err)
	}
	return &dm, nil
}

// DependencyManifestPath returns lib/<entry-base>.deps.json for an entry
// library path.
func DependencyManifestPath(entryPath string) string {
	base := filepath.Base(entryPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(entryPath), base+DependencyManifestSuffix)
}

// NewHostContext returns a context knowing names.
func NewHostContext(names ...string) *HostContext {
	h := &HostContext{names: make(map[string]struct{}, len(names))}
	h.Register(names...)
	return h
}

// HostContextFromBuildInfo seeds a context with the main module and every
// dependency module linked into the running binary.
func HostContextFromBuildInfo() *HostContext {
	h := NewHostContext()
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return h
	}
	h.Register(info.Main.Path)
	for _, dep := range info.Deps {
		h.Register(dep.Path)
		if dep.Replace != nil {
			h.Register(dep.Replace.Path)
		}
	}
	return h
}

// Register adds names. Empty names are ignored.
func (h *HostContext) Register(names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			h.names[n] = struct{}{}
		}
	}
}

// Loaded reports whether name is provided by the host.
func (h *HostContext) Loaded(name string) bool {
	if h == nil || name == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.names[name]; ok {
		return true
	}
	for n := range h.names {
		if strings.HasPrefix(name, n+"/") {
			return true
		}
	}
	return false
}

// Names returns the registered names, sorted.
func (h *HostContext) Names() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.names))
	for n := range h.names {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// nativeCandidates lists the file names probed for a native library.
func nativeCandidates(name string) []string {
	return []string{
		name,
		"lib" + name + ".so",
		name + ".so",
		"lib" + name + ".dylib",
		name + ".dll",
	}
}

// libraryCandidates lists the file names probed for a managed library.
func libraryCandidates(name string) []string {
	return []string{name, name + ".so"}
}

func isBoundary(prefixes []string, name string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
