// SPDX-License-Identifier: MPL-2.0

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
)

// ErrRouteConflict is returned when two modules claim the same route pattern.
var ErrRouteConflict = errors.New("route already registered")

type (
	// Loader instantiates uploaded modules. *loadctx.Manager implements it.
	Loader interface {
		Load(id, version string) (hostmod.Module, error)
	}

	// Options wires a Host.
	Options struct {
		State   statestore.Store
		Catalog *hostmod.Catalog
		Loader  Loader
		// Services defaults to an empty registry. Pre-populated services are
		// visible to every module.
		Services *hostmod.Services
		// Mux defaults to a new ServeMux.
		Mux    *http.ServeMux
		Logger *log.Logger
		// Concurrency bounds parallel library loads; zero means GOMAXPROCS.
		Concurrency int
	}

	// Active is a module the host is running.
	Active struct {
		ID      string
		Version string
		BuiltIn bool
		Module  hostmod.Module
		Routes  []string
	}

	// ActivationError records why one module was not activated.
	ActivationError struct {
		ID      string
		Version string
		Stage   string
		Err     error
	}

	// Host activates enabled modules and owns the capabilities they register.
	Host struct {
		state       statestore.Store
		catalog     *hostmod.Catalog
		loader      Loader
		services    *hostmod.Services
		mux         *http.ServeMux
		logger      *log.Logger
		concurrency int

		mu     sync.RWMutex
		active []Active
		routes map[string]string
	}
)

// Error implements the error interface.
func (e *ActivationError) Error() string {
	return fmt.Sprintf("module %s@%s: %s: %v", e.ID, e.Version, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ActivationError) Unwrap() error { return e.Err }

// New creates a Host.
func New(opts Options) (*Host, error) {
	if opts.State == nil {
		return nil, errors.New("host: state store is required")
	}
	services := opts.Services
	if services == nil {
		services = hostmod.NewServices()
	}
	mux := opts.Mux
	if mux == nil {
		mux = http.NewServeMux()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Host{
		state:       opts.State,
		catalog:     opts.Catalog,
		loader:      opts.Loader,
		services:    services,
		mux:         mux,
		logger:      logger.WithPrefix("host"),
		concurrency: concurrency,
		routes:      make(map[string]string),
	}, nil
}

// Services returns the shared service registry.
func (h *Host) Services() *hostmod.Services { return h.services }

// Handler returns the mux modules register their routes on.
func (h *Host) Handler() http.Handler { return h.mux }

// Activate instantiates every enabled module in state order. Libraries load
// concurrently; services and then routes are registered sequentially, in
// state order. A module that fails at any stage is skipped, the services it
// published are withdrawn and its failure is part of the joined error; the
// others stay active.
func (h *Host) Activate(ctx context.Context) ([]Active, error) {
	s, err := h.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("host: load module state: %w", err)
	}

	var enabled []statestore.Item
	for _, it := range s.Modules {
		if it.Enabled {
			enabled = append(enabled, it)
		}
	}

	loaded := make([]hostmod.Module, len(enabled))
	failures := make([]error, len(enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for idx, it := range enabled {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mod, err := h.instantiate(it)
			if err != nil {
				failures[idx] = &ActivationError{ID: it.ID, Version: it.ActiveVersion, Stage: "load", Err: err}
				return nil
			}
			loaded[idx] = mod
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type pending struct {
		idx      int
		services *moduleServices
		Active
	}
	var ready []pending
	for idx, it := range enabled {
		if loaded[idx] == nil {
			continue
		}
		svcs := &moduleServices{Services: h.services}
		if err := loaded[idx].RegisterServices(svcs); err != nil {
			svcs.withdraw()
			failures[idx] = &ActivationError{ID: it.ID, Version: it.ActiveVersion, Stage: "register services", Err: err}
			continue
		}
		ready = append(ready, pending{idx: idx, services: svcs, Active: Active{ID: it.ID, Version: it.ActiveVersion, BuiltIn: it.BuiltIn, Module: loaded[idx]}})
	}

	var out []Active
	for _, p := range ready {
		reg := &routeRegistrar{host: h, owner: p.ID}
		err := p.Module.RegisterRoutes(reg)
		if err = errors.Join(err, reg.err); err != nil {
			p.services.withdraw()
			failures[p.idx] = &ActivationError{ID: p.ID, Version: p.Version, Stage: "register routes", Err: err}
			continue
		}
		a := p.Active
		a.Routes = reg.patterns
		out = append(out, a)
		h.logger.Info("module activated", "id", a.ID, "version", a.Version, "builtIn", a.BuiltIn, "routes", len(a.Routes))
	}

	h.mu.Lock()
	h.active = append(h.active, out...)
	h.mu.Unlock()

	joined := errors.Join(failures...)
	if joined != nil {
		h.logger.Warn("some modules were not activated", "err", joined)
	}
	return out, joined
}

func (h *Host) instantiate(it statestore.Item) (hostmod.Module, error) {
	if it.BuiltIn || h.catalog.IsBuiltIn(it.ID) {
		b, ok := h.catalog.Lookup(it.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", hostmod.ErrUnknownBuiltIn, it.ID)
		}
		mod := b.New()
		if mod == nil {
			return nil, errors.New("built-in factory returned no module")
		}
		return mod, nil
	}
	if h.loader == nil {
		return nil, errors.New("no loader configured for uploaded modules")
	}
	if it.ActiveVersion == "" {
		return nil, errors.New("no active version")
	}
	return h.loader.Load(it.ID, it.ActiveVersion)
}

// Active returns the modules activated so far.
func (h *Host) Active() []Active {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.active)
}

// Tasks returns the tasks of every active module implementing
// hostmod.TaskProvider, keyed "<module id>/<task name>".
func (h *Host) Tasks() map[string]hostmod.Task {
	tasks := make(map[string]hostmod.Task)
	for _, a := range h.Active() {
		tp, ok := a.Module.(hostmod.TaskProvider)
		if !ok {
			continue
		}
		for _, t := range tp.Tasks() {
			tasks[a.ID+"/"+t.Name] = t
		}
	}
	return tasks
}

// moduleServices records what one module publishes to the shared registry
// so a module that fails activation leaves nothing behind.
type moduleServices struct {
	*hostmod.Services
	names []string
}

func (s *moduleServices) Register(name string, svc any) error {
	if err := s.Services.Register(name, svc); err != nil {
		return err
	}
	s.names = append(s.names, name)
	return nil
}

func (s *moduleServices) withdraw() {
	for _, name := range s.names {
		s.Services.Unregister(name)
	}
	s.names = nil
}

// routeRegistrar mounts one module's handlers, refusing patterns another
// module already owns. ServeMux panics on duplicates and malformed patterns;
// both become errors here.
type routeRegistrar struct {
	host     *Host
	owner    string
	patterns []string
	err      error
}

func (r *routeRegistrar) Handle(pattern string, handler http.Handler) {
	r.host.mu.Lock()
	defer r.host.mu.Unlock()
	if owner, ok := r.host.routes[pattern]; ok {
		r.err = errors.Join(r.err, fmt.Errorf("%w: %q is owned by %s", ErrRouteConflict, pattern, owner))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.err = errors.Join(r.err, fmt.Errorf("invalid route %q: %v", pattern, rec))
		}
	}()
	r.host.mux.Handle(pattern, handler)
	r.host.routes[pattern] = r.owner
	r.patterns = append(r.patterns, pattern)
}
