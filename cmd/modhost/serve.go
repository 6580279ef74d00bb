// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/modhost/modhost/internal/builtin/status"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/loadctx"
)

const (
	metricsPattern  = "GET /metrics"
	shutdownTimeout = 10 * time.Second
)

type (
	// hostServer is an activated host ready to be served.
	hostServer struct {
		session *session
		host    *host.Host
		handler http.Handler
		active  []host.Active
		// activationErr joins every module that failed to activate.
		activationErr error
	}

	serverOptions struct {
		// Opener overrides how module libraries are opened.
		Opener loadctx.Opener
	}
)

func newServeCommand(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Activate enabled modules and serve their routes",
		Long: `Load the active version of every enabled module, register the services
and HTTP routes each module provides, and serve them. A module that fails
to load or register is reported and skipped; the others keep running.

Prometheus metrics are served on /metrics.`,
		Example: `  modhost serve
  modhost serve --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := app.buildServer(cmd.Context(), serverOptions{})
			if err != nil {
				return app.fail(cmd, err)
			}
			if addr == "" {
				addr = srv.session.cfg.Serve.Addr
			}
			if err := srv.listenAndServe(cmd.Context(), addr); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default serve.addr from config)")
	return cmd
}

// buildServer opens a session and activates every enabled module on a mux
// that also serves the metrics endpoint.
func (a *App) buildServer(ctx context.Context, opts serverOptions) (*hostServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := a.openSession(ctx, sessionOptions{Registerer: reg})
	if err != nil {
		return nil, err
	}

	activeModules := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modhost",
		Subsystem: "host",
		Name:      "active_modules",
		Help:      "Modules activated by the host.",
	})
	failedModules := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modhost",
		Subsystem: "host",
		Name:      "failed_modules",
		Help:      "Enabled modules that failed to activate.",
	})
	reg.MustRegister(activeModules, failedModules)

	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	manager := loadctx.NewManager(loadctx.ManagerOptions{
		Layout:           s.layout,
		BoundaryPrefixes: s.cfg.Loader.BoundaryPrefixes,
		Opener:           opts.Opener,
		Logger:           s.logger,
	})
	h, err := host.New(host.Options{
		State:   s.store,
		Catalog: s.catalog,
		Loader:  manager,
		Mux:     mux,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Services().Register(status.ListerService, s.installer); err != nil {
		return nil, fmt.Errorf("failed to publish module lister: %w", err)
	}

	active, activationErr := h.Activate(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	activeModules.Set(float64(len(active)))
	failedModules.Set(float64(countActivationErrors(activationErr)))

	for _, m := range active {
		s.logger.Info("module active", "id", m.ID, "version", m.Version, "routes", len(m.Routes))
	}
	if activationErr != nil {
		s.logger.Error("some modules failed to activate", "err", activationErr)
	}

	return &hostServer{
		session:       s,
		host:          h,
		handler:       mux,
		active:        active,
		activationErr: activationErr,
	}, nil
}

func countActivationErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// listenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *hostServer) listenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.session.logger.Info("serving", "addr", ln.Addr().String(), "modules", len(s.active))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
