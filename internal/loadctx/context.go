// SPDX-License-Identifier: MPL-2.0

package loadctx

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/pkg/hostmod"
)

var (
	// ErrLibraryNotFound is returned when a library name resolves nowhere.
	ErrLibraryNotFound = errors.New("library not found")
	// ErrHostLibrary is returned when a module tries to load a library the
	// host owns.
	ErrHostLibrary = errors.New("library is provided by the host")
	// ErrEntryType is returned when the entry symbol is missing or has an
	// unusable type.
	ErrEntryType = errors.New("invalid entry type")
)

type (
	// Library is an opened dynamic library.
	Library interface {
		Lookup(symbol string) (any, error)
	}

	// Opener opens dynamic libraries by path.
	Opener interface {
		Open(path string) (Library, error)
	}

	// PluginOpener opens Go plugins with the standard plugin package.
	PluginOpener struct{}

	pluginLibrary struct{ p *plugin.Plugin }

	// Options configures a Context.
	Options struct {
		// BoundaryPrefixes name libraries that always resolve from the host.
		BoundaryPrefixes []string
		Host             *HostContext
		// Opener defaults to PluginOpener.
		Opener Opener
		Logger *log.Logger
	}

	// Context is the loading unit of one installed module version. Library
	// names resolve from the host first (boundary prefixes and host-provided
	// names), then from the module's dependency manifest, then by probing the
	// entry library's directory.
	Context struct {
		manifest  hostmod.Manifest
		dir       string
		entryPath string
		entryDir  string
		deps      *DependencyManifest
		boundary  []string
		host      *HostContext
		opener    Opener
		logger    *log.Logger

		mu   sync.Mutex
		libs map[string]Library
	}
)

// Open implements Opener.
func (PluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{p: p}, nil
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.p.Lookup(symbol)
}

// New creates the context for the module installed in dir, whose manifest is m.
func New(dir string, m hostmod.Manifest, opts Options) (*Context, error) {
	if m.Entry.Assembly == "" {
		return nil, fmt.Errorf("module %q has no entry library", m.ID)
	}
	libDir := filepath.Join(dir, hostmod.LibDirName)
	entryPath, err := hostmod.SafeJoin(libDir, m.Entry.Assembly)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", m.ID, err)
	}
	deps, err := ReadDependencyManifest(DependencyManifestPath(entryPath))
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", m.ID, err)
	}

	opener := opts.Opener
	if opener == nil {
		opener = PluginOpener{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Context{
		manifest:  m,
		dir:       dir,
		entryPath: entryPath,
		entryDir:  filepath.Dir(entryPath),
		deps:      deps,
		boundary:  append([]string(nil), opts.BoundaryPrefixes...),
		host:      opts.Host,
		opener:    opener,
		logger:    logger.With("module", m.ID+"@"+m.Version),
		libs:      make(map[string]Library),
	}, nil
}

// Manifest returns the module's manifest.
func (c *Context) Manifest() hostmod.Manifest { return c.manifest }

// Dir returns the installed version directory.
func (c *Context) Dir() string { return c.dir }

// EntryPath returns the absolute path of the entry library.
func (c *Context) EntryPath() string { return c.entryPath }

// ResolveLibrary resolves a library name.
// SourceHost means the caller must fall back to the host's copy.
func (c *Context) ResolveLibrary(name string) Resolution {
	res := Resolution{Name: name}
	if name == "" {
		return res
	}
	if isBoundary(c.boundary, name) || c.host.Loaded(name) {
		res.Source = SourceHost
		return res
	}
	if p, ok := c.fromDependencyManifest(c.deps.Libraries, name); ok {
		res.Source, res.Path = SourceDependencyManifest, p
		return res
	}
	if p, ok := c.probe(libraryCandidates(name)); ok {
		res.Source, res.Path = SourceProbe, p
	}
	return res
}

// ResolveNative resolves a native library: dependency manifest first, then
// the platform file-name variants next to the entry library.
func (c *Context) ResolveNative(name string) Resolution {
	res := Resolution{Name: name}
	if name == "" {
		return res
	}
	if p, ok := c.fromDependencyManifest(c.deps.Native, name); ok {
		res.Source, res.Path = SourceDependencyManifest, p
		return res
	}
	if p, ok := c.probe(nativeCandidates(name)); ok {
		res.Source, res.Path = SourceProbe, p
	}
	return res
}

func (c *Context) fromDependencyManifest(table map[string]string, name string) (string, bool) {
	rel, ok := table[name]
	if !ok {
		return "", false
	}
	p, err := hostmod.SafeJoin(c.entryDir, rel)
	if err != nil {
		c.logger.Warn("ignoring dependency manifest entry", "name", name, "path", rel, "err", err)
		return "", false
	}
	return p, regularFile(p)
}

func (c *Context) probe(candidates []string) (string, bool) {
	for _, cand := range candidates {
		p, err := hostmod.SafeJoin(c.entryDir, cand)
		if err != nil {
			continue
		}
		if regularFile(p) {
			return p, true
		}
	}
	return "", false
}

// LoadLibrary resolves and opens a library privately for this module.
// Host-owned names fail with ErrHostLibrary so the caller uses the host's copy.
func (c *Context) LoadLibrary(name string) (Library, Resolution, error) {
	res := c.ResolveLibrary(name)
	switch {
	case res.Source == SourceHost:
		return nil, res, fmt.Errorf("%s: %w", name, ErrHostLibrary)
	case !res.Found():
		return nil, res, fmt.Errorf("%s: %w", name, ErrLibraryNotFound)
	}
	lib, err := c.open(res.Path)
	if err != nil {
		return nil, res, err
	}
	c.logger.Debug("library loaded", "name", name, "source", res.Source, "path", res.Path)
	return lib, res, nil
}

func (c *Context) open(path string) (Library, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lib, ok := c.libs[path]; ok {
		return lib, nil
	}
	lib, err := c.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	c.libs[path] = lib
	return lib, nil
}

// Preload opens every library listed in the dependency manifest, in name
// order. Host-owned names are skipped and never opened from the module's
// directory; any other name that does not resolve fails the preload.
func (c *Context) Preload() ([]Resolution, error) {
	names := make([]string, 0, len(c.deps.Libraries))
	for name := range c.deps.Libraries {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]Resolution, 0, len(names))
	for _, name := range names {
		_, res, err := c.LoadLibrary(name)
		if errors.Is(err, ErrHostLibrary) {
			c.logger.Debug("library provided by host", "name", name)
			out = append(out, res)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("module %q: %w", c.manifest.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Instantiate preloads the module's private libraries, opens the entry
// library and builds the module from the symbol named by the text after the
// last "." of the entry type. The symbol may be a func() hostmod.Module
// constructor, a hostmod.Module variable, or a value implementing
// hostmod.Module.
func (c *Context) Instantiate() (hostmod.Module, error) {
	if _, err := c.Preload(); err != nil {
		return nil, err
	}
	lib, err := c.open(c.entryPath)
	if err != nil {
		return nil, err
	}
	name := SymbolName(c.manifest.Entry.Type)
	sym, err := lib.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("%w: symbol %q: %w", ErrEntryType, name, err)
	}

	var mod hostmod.Module
	switch v := sym.(type) {
	case func() hostmod.Module:
		mod = v()
	case *hostmod.Module:
		if v != nil {
			mod = *v
		}
	case hostmod.Module:
		mod = v
	default:
		return nil, fmt.Errorf("%w: symbol %q has type %T", ErrEntryType, name, sym)
	}
	if mod == nil {
		return nil, fmt.Errorf("%w: symbol %q produced no module", ErrEntryType, name)
	}
	if got := mod.Manifest().ID; got != "" && got != c.manifest.ID {
		return nil, fmt.Errorf("%w: entry reports module %q, manifest declares %q", ErrEntryType, got, c.manifest.ID)
	}

	c.logger.Debug("module instantiated", "symbol", name)
	return mod, nil
}

// SymbolName returns the part of an entry type after its last ".".
func SymbolName(entryType string) string {
	if i := strings.LastIndex(entryType, "."); i >= 0 {
		return entryType[i+1:]
	}
	return entryType
}
