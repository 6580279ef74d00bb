// SPDX-License-Identifier: MPL-2.0

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
)

type (
	fakeLister struct{ items []statestore.Item }

	notFoundError struct{}

	muxRegistrar struct{ mux *http.ServeMux }
)

func (notFoundError) Error() string  { return "module is not installed" }
func (notFoundError) NotFound() bool { return true }

func (r muxRegistrar) Handle(pattern string, h http.Handler) { r.mux.Handle(pattern, h) }

func (f *fakeLister) List(context.Context) ([]statestore.Item, error) { return f.items, nil }

func (f *fakeLister) Get(_ context.Context, id string) (statestore.Item, error) {
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return statestore.Item{}, notFoundError{}
}

func newServer(t *testing.T, lister Lister) *http.ServeMux {
	t.Helper()
	services := hostmod.NewServices()
	if lister != nil {
		if err := services.Register(ListerService, lister); err != nil {
			t.Fatal(err)
		}
	}
	mod := BuiltIn().New()
	if err := mod.RegisterServices(services); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	if err := mod.RegisterRoutes(muxRegistrar{mux: mux}); err != nil {
		t.Fatal(err)
	}
	return mux
}

func TestListModules(t *testing.T) {
	t.Parallel()

	mux := newServer(t, &fakeLister{items: []statestore.Item{
		{ID: "app", Enabled: true, ActiveVersion: "1.2.0", LastGoodVersion: "1.1.0", InstalledVersions: []string{"1.1.0", "1.2.0"}},
		{ID: ID, BuiltIn: true, ActiveVersion: "2.0.0"},
	}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /modules = %d: %s", rec.Code, rec.Body)
	}
	var got []moduleView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].LastGoodVersion != "1.1.0" || !got[1].BuiltIn || got[1].InstalledVersions == nil {
		t.Errorf("GET /modules = %+v", got)
	}
}

func TestGetModule(t *testing.T) {
	t.Parallel()

	mux := newServer(t, &fakeLister{items: []statestore.Item{{ID: "app", ActiveVersion: "1.0.0"}}})

	tests := []struct {
		path string
		code int
	}{
		{"/modules/app", http.StatusOK},
		{"/modules/ghost", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
}

func TestMissingLister(t *testing.T) {
	t.Parallel()

	mux := newServer(t, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/modules", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /modules without a lister = %d", rec.Code)
	}
}

func TestBuiltInManifest(t *testing.T) {
	t.Parallel()

	catalog, err := hostmod.NewCatalog(BuiltIn())
	if err != nil {
		t.Fatalf("catalog rejected the status built-in: %v", err)
	}
	if !catalog.IsBuiltIn(ID) {
		t.Error("status should be a built-in")
	}
	if _, err := hostmod.LookupAs[Lister](hostmod.NewServices(), ListerService); err == nil {
		t.Error("lookup on an empty registry should fail")
	}
}
