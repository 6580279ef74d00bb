// SPDX-License-Identifier: MPL-2.0

package loadctx

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modhost/modhost/pkg/hostmod"
)

type (
	fakeLibrary map[string]any

	fakeOpener struct {
		libs  map[string]fakeLibrary
		opens atomic.Int32

		mu     sync.Mutex
		opened []string
	}

	testModule struct{ id string }
)

func (l fakeLibrary) Lookup(symbol string) (any, error) {
	if v, ok := l[symbol]; ok {
		return v, nil
	}
	return nil, errors.New("symbol not found")
}

func (o *fakeOpener) Open(path string) (Library, error) {
	o.opens.Add(1)
	o.mu.Lock()
	o.opened = append(o.opened, path)
	o.mu.Unlock()
	if lib, ok := o.libs[path]; ok {
		return lib, nil
	}
	return nil, os.ErrNotExist
}

func (m *testModule) Manifest() hostmod.Manifest                     { return hostmod.Manifest{ID: m.id} }
func (m *testModule) RegisterServices(hostmod.ServiceRegistry) error { return nil }
func (m *testModule) RegisterRoutes(hostmod.RouteRegistrar) error    { return nil }

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func sampleManifest() hostmod.Manifest {
	return hostmod.Manifest{
		ID:      "sample",
		Name:    "Sample",
		Version: "1.0.0",
		Entry:   hostmod.Entry{Assembly: "sample.so", Type: "sample.Module"},
	}
}

// installModule lays out installed/sample/1.0.0 with an entry library, a
// dependency manifest and a few private libraries.
func installModule(t *testing.T, layout hostmod.Layout) string {
	t.Helper()
	dir := layout.VersionDir("sample", "1.0.0")
	writeFile(t, filepath.Join(dir, hostmod.ManifestFileName),
		`{"id":"sample","name":"Sample","version":"1.0.0","entry":{"assembly":"sample.so","type":"sample.Module"}}`)
	lib := filepath.Join(dir, hostmod.LibDirName)
	writeFile(t, filepath.Join(lib, "sample.so"), "entry")
	writeFile(t, filepath.Join(lib, "sample.deps.json"), `{
  "libraries": {"example.com/json": "deps/json-v2.so", "example.com/escape": "../../outside.so", "example.com/ghost": "deps/ghost.so"},
  "native": {"sqlite3": "native/libsqlite3.so"}
}`)
	writeFile(t, filepath.Join(lib, "deps", "json-v2.so"), "json")
	writeFile(t, filepath.Join(lib, "native", "libsqlite3.so"), "sqlite")
	writeFile(t, filepath.Join(lib, "yaml.so"), "yaml")
	writeFile(t, filepath.Join(lib, "libz.so"), "z")
	writeFile(t, filepath.Join(dir, "outside.so"), "outside")
	return dir
}

func newTestContext(t *testing.T, opener Opener) *Context {
	t.Helper()
	layout, err := hostmod.NewLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := installModule(t, layout)
	c, err := New(dir, sampleManifest(), Options{
		BoundaryPrefixes: []string{"github.com/modhost/modhost/pkg/"},
		Host:             NewHostContext("github.com/charmbracelet/log"),
		Opener:           opener,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestResolveLibrary(t *testing.T) {
	t.Parallel()

	c := newTestContext(t, &fakeOpener{})
	lib := filepath.Join(c.Dir(), hostmod.LibDirName)

	tests := []struct {
		name   string
		source Source
		path   string
	}{
		{"github.com/modhost/modhost/pkg/hostmod", SourceHost, ""},
		{"github.com/charmbracelet/log", SourceHost, ""},
		{"github.com/charmbracelet/log/internal", SourceHost, ""},
		{"example.com/json", SourceDependencyManifest, filepath.Join(lib, "deps", "json-v2.so")},
		{"yaml", SourceProbe, filepath.Join(lib, "yaml.so")},
		{"yaml.so", SourceProbe, filepath.Join(lib, "yaml.so")},
		{"example.com/escape", SourceNone, ""},
		{"example.com/ghost", SourceNone, ""},
		{"../outside", SourceNone, ""},
		{"missing", SourceNone, ""},
		{"", SourceNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.ResolveLibrary(tt.name)
			if got.Source != tt.source || got.Path != tt.path {
				t.Errorf("ResolveLibrary(%q) = %v %q, want %v %q", tt.name, got.Source, got.Path, tt.source, tt.path)
			}
		})
	}
}

func TestBoundaryWinsOverDependencyManifest(t *testing.T) {
	t.Parallel()

	c := newTestContext(t, &fakeOpener{})
	c.deps.Libraries["github.com/modhost/modhost/pkg/hostmod"] = "deps/json-v2.so"

	if got := c.ResolveLibrary("github.com/modhost/modhost/pkg/hostmod"); got.Source != SourceHost {
		t.Errorf("boundary library resolved from %v, want host", got.Source)
	}
}

func TestResolveNative(t *testing.T) {
	t.Parallel()

	c := newTestContext(t, &fakeOpener{})
	lib := filepath.Join(c.Dir(), hostmod.LibDirName)

	if got := c.ResolveNative("sqlite3"); got.Source != SourceDependencyManifest || got.Path != filepath.Join(lib, "native", "libsqlite3.so") {
		t.Errorf("ResolveNative(sqlite3) = %+v", got)
	}
	if got := c.ResolveNative("z"); got.Source != SourceProbe || got.Path != filepath.Join(lib, "libz.so") {
		t.Errorf("ResolveNative(z) = %+v", got)
	}
	if got := c.ResolveNative("png"); got.Source != SourceNone {
		t.Errorf("ResolveNative(png) = %+v", got)
	}
}

func TestLoadLibrary(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{libs: map[string]fakeLibrary{}}
	c := newTestContext(t, opener)
	jsonPath := filepath.Join(c.Dir(), hostmod.LibDirName, "deps", "json-v2.so")
	opener.libs[jsonPath] = fakeLibrary{"Marshal": func() {}}

	lib, res, err := c.LoadLibrary("example.com/json")
	if err != nil || lib == nil || res.Source != SourceDependencyManifest {
		t.Fatalf("LoadLibrary() = %v, %+v, %v", lib, res, err)
	}
	if _, _, err := c.LoadLibrary("example.com/json"); err != nil {
		t.Fatal(err)
	}
	if n := opener.opens.Load(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}

	if _, _, err := c.LoadLibrary("github.com/charmbracelet/log"); !errors.Is(err, ErrHostLibrary) {
		t.Errorf("host library error = %v, want ErrHostLibrary", err)
	}
	if _, _, err := c.LoadLibrary("missing"); !errors.Is(err, ErrLibraryNotFound) {
		t.Errorf("missing library error = %v, want ErrLibraryNotFound", err)
	}
}

func TestInstantiate(t *testing.T) {
	t.Parallel()

	var asVar hostmod.Module = &testModule{id: "sample"}

	tests := []struct {
		name    string
		symbol  any
		wantErr bool
	}{
		{"constructor", func() hostmod.Module { return &testModule{id: "sample"} }, false},
		{"interface variable", &asVar, false},
		{"implementing value", &testModule{id: "sample"}, false},
		{"wrong type", 42, true},
		{"nil constructor result", func() hostmod.Module { return nil }, true},
		{"foreign id", func() hostmod.Module { return &testModule{id: "other"} }, true},
		{"missing symbol", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opener := &fakeOpener{libs: map[string]fakeLibrary{}}
			c := newTestContext(t, opener)
			c.deps = &DependencyManifest{}
			lib := fakeLibrary{}
			if tt.symbol != nil {
				lib["Module"] = tt.symbol
			}
			opener.libs[c.EntryPath()] = lib

			mod, err := c.Instantiate()
			if tt.wantErr {
				if !errors.Is(err, ErrEntryType) {
					t.Errorf("Instantiate() error = %v, want ErrEntryType", err)
				}
				return
			}
			if err != nil || mod.Manifest().ID != "sample" {
				t.Errorf("Instantiate() = %v, %v", mod, err)
			}
		})
	}
}

func TestInstantiatePreloadsDependencyManifest(t *testing.T) {
	t.Parallel()

	entrySymbols := fakeLibrary{"Module": func() hostmod.Module { return &testModule{id: "sample"} }}

	t.Run("unresolvable library fails before the entry opens", func(t *testing.T) {
		t.Parallel()
		opener := &fakeOpener{libs: map[string]fakeLibrary{}}
		c := newTestContext(t, opener)
		opener.libs[c.EntryPath()] = entrySymbols

		if _, err := c.Instantiate(); !errors.Is(err, ErrLibraryNotFound) {
			t.Fatalf("Instantiate() error = %v, want ErrLibraryNotFound", err)
		}
		if n := opener.opens.Load(); n != 0 {
			t.Errorf("opener called %d times, want 0", n)
		}
	})

	t.Run("private libraries open and host names are skipped", func(t *testing.T) {
		t.Parallel()
		opener := &fakeOpener{libs: map[string]fakeLibrary{}}
		c := newTestContext(t, opener)
		lib := filepath.Join(c.Dir(), hostmod.LibDirName)
		writeFile(t, filepath.Join(lib, "deps", "hostmod.so"), "shadow copy")
		c.deps = &DependencyManifest{Libraries: map[string]string{
			"example.com/json":                       "deps/json-v2.so",
			"github.com/modhost/modhost/pkg/hostmod": "deps/hostmod.so",
			"github.com/charmbracelet/log":           "yaml.so",
		}}
		jsonPath := filepath.Join(lib, "deps", "json-v2.so")
		opener.libs[jsonPath] = fakeLibrary{}
		opener.libs[c.EntryPath()] = entrySymbols

		mod, err := c.Instantiate()
		if err != nil || mod.Manifest().ID != "sample" {
			t.Fatalf("Instantiate() = %v, %v", mod, err)
		}
		want := []string{jsonPath, c.EntryPath()}
		if !slices.Equal(opener.opened, want) {
			t.Errorf("opened %v, want %v", opener.opened, want)
		}
	})
}

func TestSymbolName(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"Sample.Module":               "Module",
		"github.com/acme/x.NewModule": "NewModule",
		"Module":                      "Module",
	} {
		if got := SymbolName(in); got != want {
			t.Errorf("SymbolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsEscapingEntry(t *testing.T) {
	t.Parallel()

	m := sampleManifest()
	m.Entry.Assembly = "../../evil.so"
	if _, err := New(t.TempDir(), m, Options{}); !errors.Is(err, hostmod.ErrUnsafePath) {
		t.Errorf("New() error = %v, want ErrUnsafePath", err)
	}
}

func TestManagerCachesContexts(t *testing.T) {
	t.Parallel()

	layout, err := hostmod.NewLayout(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	installModule(t, layout)
	lib := filepath.Join(layout.VersionDir("sample", "1.0.0"), hostmod.LibDirName)
	writeFile(t, filepath.Join(lib, "sample.deps.json"), `{"libraries": {"example.com/json": "deps/json-v2.so"}}`)
	opener := &fakeOpener{libs: map[string]fakeLibrary{
		filepath.Join(lib, "sample.so"):          {"Module": func() hostmod.Module { return &testModule{id: "sample"} }},
		filepath.Join(lib, "deps", "json-v2.so"): {},
	}}
	m := NewManager(ManagerOptions{Layout: layout, Opener: opener, Host: NewHostContext()})

	var wg sync.WaitGroup
	contexts := make([]*Context, 8)
	for i := range contexts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.Context("sample", "1.0.0")
			if err != nil {
				t.Error(err)
				return
			}
			contexts[i] = c
		}()
	}
	wg.Wait()
	for _, c := range contexts {
		if c != contexts[0] {
			t.Fatal("concurrent callers received different contexts")
		}
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	mod, err := m.Load("sample", "1.0.0")
	if err != nil || mod.Manifest().ID != "sample" {
		t.Fatalf("Load() = %v, %v", mod, err)
	}

	if _, err := m.Context("sample", "2.0.0"); err == nil {
		t.Error("Context() for an uninstalled version should fail")
	}

	m.Forget("sample", "1.0.0")
	if m.Len() != 0 {
		t.Errorf("Len() after Forget = %d", m.Len())
	}
}

func TestHostContext(t *testing.T) {
	t.Parallel()

	h := NewHostContext(" example.com/a ", "")
	h.Register("example.com/b")
	if !h.Loaded("example.com/a") || !h.Loaded("example.com/b/sub") {
		t.Error("registered names should match")
	}
	if h.Loaded("example.com/ab") {
		t.Error("prefix match must stop at a path boundary")
	}
	var nilHost *HostContext
	if nilHost.Loaded("example.com/a") {
		t.Error("nil host context knows nothing")
	}
	if got := h.Names(); len(got) != 2 || got[0] != "example.com/a" {
		t.Errorf("Names() = %v", got)
	}
}

func TestDependencyManifestPath(t *testing.T) {
	t.Parallel()

	got := DependencyManifestPath(filepath.Join("lib", "Sample.dll"))
	if want := filepath.Join("lib", "Sample.deps.json"); got != want {
		t.Errorf("DependencyManifestPath() = %q, want %q", got, want)
	}
}
