// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"sync"
)

// ErrServiceExists is returned when a service name is registered twice.
var ErrServiceExists = errors.New("service already registered")

type (
	// Module is the capability surface every module instance exposes to the host.
	Module interface {
		Manifest() Manifest
		RegisterServices(services ServiceRegistry) error
		RegisterRoutes(routes RouteRegistrar) error
	}

	// TaskProvider is implemented by modules that contribute tasks.
	TaskProvider interface {
		Tasks() []Task
	}

	// Task is a unit of work a module offers to the host.
	Task struct {
		Name        string
		Description string
		Run         func() error
	}

	// RouteRegistrar mounts HTTP handlers on the host's mux.
	RouteRegistrar interface {
		Handle(pattern string, handler http.Handler)
	}

	// ServiceRegistry is the shared service container modules publish into
	// and look up from.
	ServiceRegistry interface {
		Register(name string, svc any) error
		Lookup(name string) (any, bool)
	}

	// Services is the default ServiceRegistry. It is safe for concurrent use.
	Services struct {
		mu   sync.RWMutex
		svcs map[string]any
	}
)

// NewServices returns an empty registry.
func NewServices() *Services {
	return &Services{svcs: make(map[string]any)}
}

// Register publishes svc under name.
func (s *Services) Register(name string, svc any) error {
	if name == "" || svc == nil {
		return errors.New("service name and value are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.svcs[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	s.svcs[name] = svc
	return nil
}

// Lookup returns the service registered under name.
func (s *Services) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.svcs[name]
	return svc, ok
}

// Unregister removes the service published under name, if any.
func (s *Services) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.svcs, name)
}

// Names returns the registered service names in sorted order.
func (s *Services) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.svcs))
	for name := range s.svcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupAs fetches a service and asserts it to T.
func LookupAs[T any](r ServiceRegistry, name string) (T, error) {
	var zero T
	svc, ok := r.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("service %q is not registered", name)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %s, not %s", name, reflect.TypeOf(svc), reflect.TypeFor[T]())
	}
	return typed, nil
}
