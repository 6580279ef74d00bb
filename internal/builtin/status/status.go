// SPDX-License-Identifier: MPL-2.0

// Package status is the built-in module that reports installed modules over
// HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
)

const (
	// ID is the module id reserved by this built-in.
	ID = "status"
	// ListerService is the service name the host publishes its module lister under.
	ListerService = "modhost.modules"
)

type (
	// Lister is the view of the installer this module needs.
	Lister interface {
		List(ctx context.Context) ([]statestore.Item, error)
		Get(ctx context.Context, id string) (statestore.Item, error)
	}

	// Module serves GET /modules and GET /modules/{id}.
	Module struct {
		services hostmod.ServiceRegistry
	}

	moduleView struct {
		ID                string   `json:"id"`
		Enabled           bool     `json:"enabled"`
		BuiltIn           bool     `json:"builtIn"`
		ActiveVersion     string   `json:"activeVersion,omitempty"`
		LastGoodVersion   string   `json:"lastGoodVersion,omitempty"`
		InstalledVersions []string `json:"installedVersions"`
	}
)

// BuiltIn returns the catalog entry for this module.
func BuiltIn() hostmod.BuiltIn {
	return hostmod.BuiltIn{
		Manifest: hostmod.Manifest{
			ID:          ID,
			Name:        "Module status",
			Description: "Lists installed modules and their state.",
			Entry:       hostmod.Entry{Type: "status.Module"},
		},
		New: func() hostmod.Module { return &Module{} },
	}
}

// Manifest implements hostmod.Module.
func (m *Module) Manifest() hostmod.Manifest { return BuiltIn().Manifest }

// RegisterServices keeps the registry; the lister is looked up per request
// so registration order does not matter.
func (m *Module) RegisterServices(services hostmod.ServiceRegistry) error {
	m.services = services
	return nil
}

// RegisterRoutes implements hostmod.Module.
func (m *Module) RegisterRoutes(routes hostmod.RouteRegistrar) error {
	routes.Handle("GET /modules", http.HandlerFunc(m.list))
	routes.Handle("GET /modules/{id}", http.HandlerFunc(m.get))
	return nil
}

func (m *Module) lister() (Lister, error) {
	if m.services == nil {
		return nil, errors.New("status module has no service registry")
	}
	return hostmod.LookupAs[Lister](m.services, ListerService)
}

func (m *Module) list(w http.ResponseWriter, r *http.Request) {
	l, err := m.lister()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	items, err := l.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]moduleView, 0, len(items))
	for _, it := range items {
		views = append(views, view(it))
	}
	writeJSON(w, http.StatusOK, views)
}

func (m *Module) get(w http.ResponseWriter, r *http.Request) {
	l, err := m.lister()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	it, err := l.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		// The installer reports unknown ids as not installed; everything else
		// is a server-side failure.
		status := http.StatusInternalServerError
		var nf interface{ NotFound() bool }
		if errors.As(err, &nf) && nf.NotFound() {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, view(it))
}

func view(it statestore.Item) moduleView {
	versions := it.InstalledVersions
	if versions == nil {
		versions = []string{}
	}
	return moduleView{
		ID:                it.ID,
		Enabled:           it.Enabled,
		BuiltIn:           it.BuiltIn,
		ActiveVersion:     it.ActiveVersion,
		LastGoodVersion:   it.LastGoodVersion,
		InstalledVersions: versions,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
