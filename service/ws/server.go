// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/mattermost/switchboard/service/random"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// UpgradeCb is called before upgrading an HTTP request. Returning an error
// aborts the upgrade. The callback is responsible for writing a response
// in that case.
type UpgradeCb func(connID string, w http.ResponseWriter, r *http.Request) error

// ConnHandler serves a single connection. The connection is closed as
// soon as the handler returns.
type ConnHandler func(conn *Conn)

type Server struct {
	cfg       ServerConfig
	log       mlog.LoggerIFace
	handler   ConnHandler
	upgradeCb UpgradeCb
	upgrader  websocket.Upgrader

	conns  map[string]*Conn
	closed bool
	mut    sync.RWMutex
}

func NewServer(cfg ServerConfig, log mlog.LoggerIFace, handler ConnHandler, opts ...Option) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler should not be nil")
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		handler: handler,
		conns:   make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := random.NewID()

	if s.upgradeCb != nil {
		if err := s.upgradeCb(connID, w, r); err != nil {
			s.log.Error("ws: upgradeCb failed", mlog.Err(err))
			return
		}
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws: failed to upgrade connection", mlog.Err(err))
		return
	}

	conn := newConn(connID, wsConn, s.cfg.connConfig(), s.log)
	if !s.addConn(conn) {
		s.log.Warn("ws: server is closed, dropping connection", mlog.String("connID", connID))
		_ = wsConn.Close()
		return
	}
	defer s.removeConn(connID)

	s.log.Debug("ws: connection opened", mlog.String("connID", connID), mlog.String("remoteAddr", r.RemoteAddr))

	conn.start()
	s.handler(conn)

	if err := conn.Close(); err != nil {
		s.log.Debug("ws: failed to close conn", mlog.String("connID", connID), mlog.Err(err))
	}
	conn.wait()

	s.log.Debug("ws: connection closed", mlog.String("connID", connID))
}

// Close closes all the active connections. New connections are refused
// afterwards.
func (s *Server) Close() {
	s.mut.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mut.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			s.log.Debug("ws: failed to close conn", mlog.String("connID", conn.ID()), mlog.Err(err))
		}
		conn.wait()
	}
}

// ConnCount returns the number of active connections.
func (s *Server) ConnCount() int {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return len(s.conns)
}

func (s *Server) addConn(c *Conn) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.conns[c.id]; ok {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) removeConn(connID string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	delete(s.conns, connID)
}
