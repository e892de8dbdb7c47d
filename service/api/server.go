// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// Server is the HTTP front of a switchboard node. Clients upgrade to the
// signaling WebSocket on one of its routes, operators scrape the others.
// Routes are registered before Start.
type Server struct {
	cfg      Config
	srv      *http.Server
	mux      *http.ServeMux
	log      mlog.LoggerIFace
	listener net.Listener
	routes   map[string]struct{}
	mut      sync.Mutex
}

func NewServer(cfg Config, log mlog.LoggerIFace) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	mux := http.NewServeMux()
	s := &Server{
		cfg:    cfg,
		mux:    mux,
		log:    log,
		routes: make(map[string]struct{}),
		srv: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: orDefault(cfg.ReadHeaderTimeout, defaultReadHeaderTimeout),
			IdleTimeout:       orDefault(cfg.IdleTimeout, defaultIdleTimeout),
			TLSConfig: &tls.Config{
				MinVersion:       tls.VersionTLS12,
				CurvePreferences: []tls.CurveID{tls.CurveP256},
			},
		},
	}

	return s, nil
}

// Routes returns the registered paths, sorted.
func (s *Server) Routes() []string {
	s.mut.Lock()
	defer s.mut.Unlock()
	routes := make([]string, 0, len(s.routes))
	for r := range s.routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

func (s *Server) Start() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server is already started")
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	withTLS := s.cfg.TLS.Enable
	s.log.Info("api: server is listening",
		mlog.String("addr", listener.Addr().String()), mlog.Bool("tls", withTLS), mlog.Int("routes", len(s.routes)))

	go func() {
		var err error
		if withTLS {
			err = s.srv.ServeTLS(listener, s.cfg.TLS.CertFile, s.cfg.TLS.CertKey)
		} else {
			err = s.srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Critical("api: failed to serve", mlog.Err(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. Hijacked connections, such as
// the signaling WebSockets, are not tracked and need closing separately.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), orDefault(s.cfg.ShutdownTimeout, defaultShutdownTimeout))
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.log.Info("api: server was shutdown")
	return nil
}

// Addr returns the address the server listens on, empty before Start.
func (s *Server) Addr() string {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
