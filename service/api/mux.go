// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack is needed by the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		s.log.Debug("api: request served",
			mlog.String("route", path),
			mlog.String("method", req.Method),
			mlog.String("remoteAddr", req.RemoteAddr),
			mlog.Int("status", rec.status),
			mlog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) RegisterHandleFunc(path string, hf http.HandlerFunc) {
	s.RegisterHandler(path, hf)
}

// RegisterHandler adds a route. Registering the same path twice is a
// programming error and panics, as with http.ServeMux.
func (s *Server) RegisterHandler(path string, handler http.Handler) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if _, ok := s.routes[path]; ok {
		panic(fmt.Sprintf("api: route %q already registered", path))
	}
	s.routes[path] = struct{}{}
	s.log.Debug("api: registering route", mlog.String("route", path))
	s.mux.Handle(path, s.withLogging(path, handler))
}
