// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// defaultReadTimeout bounds reading a scrape request.
	defaultReadTimeout = 5 * time.Second

	// defaultWriteTimeout bounds writing a scrape response.
	defaultWriteTimeout = 10 * time.Second

	// defaultIdleTimeout bounds idle keep-alive connections.
	defaultIdleTimeout = 60 * time.Second
)

// Server serves the metrics of a watcher over HTTP on /metrics, with a
// liveness probe on /healthz.
type Server struct {
	registry *prometheus.Registry
	server   *http.Server
}

// NewServer returns a server listening on addr that exports the snapshots of
// source together with the Go runtime and process metrics.
func NewServer(addr string, source SnapshotSource) (*Server, error) {
	registry := prometheus.NewRegistry()

	err := registry.Register(NewCollector(source))
	if err != nil {
		return nil, err
	}

	err = registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, err
	}

	err = registry.Register(collectors.NewProcessCollector(
		collectors.ProcessCollectorOpts{},
	))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry, promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		registry: registry,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
	}, nil
}

// Registry returns the registry the server exports.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	log.Infof("Metrics server listening on %s", s.server.Addr)

	return ignoreClosed(s.server.ListenAndServe())
}

// Serve serves on an existing listener until Shutdown is called. It returns
// nil after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	log.Infof("Metrics server listening on %s", l.Addr())

	return ignoreClosed(s.server.Serve(l))
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
