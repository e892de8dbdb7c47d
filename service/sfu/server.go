// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Server owns the process wide WebRTC resources (UDP sockets, media
// engine, interceptors) and hands out transports built on them.
type Server struct {
	cfg     ServerConfig
	log     mlog.LoggerIFace
	metrics Metrics

	udpConn net.PacketConn
	udpMux  ice.UDPMux
	hostIP  string
	api     *webrtc.API

	mut sync.RWMutex
}

func NewServer(cfg ServerConfig, log mlog.LoggerIFace, metrics Metrics) (*Server, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		hostIP:  cfg.ICEHostOverride,
	}, nil
}

// NewLogger implements logging.LoggerFactory.
func (s *Server) NewLogger(scope string) logging.LeveledLogger {
	return newPionLeveledLogger(s.log, scope)
}

func (s *Server) Start() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.api != nil {
		return fmt.Errorf("server is already started")
	}

	if stunURL := s.cfg.ICEServers.getSTUN(); s.hostIP == "" && stunURL != "" {
		addr, err := getPublicIP(stunURL)
		if err != nil {
			return fmt.Errorf("failed to get public IP address: %w", err)
		}
		s.hostIP = addr
		s.log.Info("rtc: got public IP address", mlog.String("addr", addr))
	}

	address := net.JoinHostPort(s.cfg.ICEAddressUDP, strconv.Itoa(s.cfg.ICEPortUDP))
	conns, err := listenUDP(s.log, address, s.cfg.UDPSocketsCount)
	if err != nil {
		return err
	}

	s.udpConn, err = newMultiConn(conns)
	if err != nil {
		return fmt.Errorf("failed to create multiconn: %w", err)
	}

	s.udpMux = webrtc.NewICEUDPMux(s.NewLogger("ice_mux"), s.udpConn)

	m, err := initMediaEngine()
	if err != nil {
		return fmt.Errorf("failed to init media engine: %w", err)
	}

	i, err := initInterceptors(m, s.cfg.NACKBufferSize)
	if err != nil {
		return fmt.Errorf("failed to init interceptors: %w", err)
	}

	s.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s.initSettingEngine()),
	)

	s.log.Info("rtc: server started")

	return nil
}

func (s *Server) Stop() error {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.udpMux != nil {
		if err := s.udpMux.Close(); err != nil {
			return fmt.Errorf("failed to close udp mux: %w", err)
		}
		s.udpMux = nil
	}

	if s.udpConn != nil {
		if err := s.udpConn.Close(); err != nil {
			return fmt.Errorf("failed to close udp conn: %w", err)
		}
		s.udpConn = nil
	}

	s.api = nil

	s.log.Info("rtc: server was shutdown")

	return nil
}

// NewTransport creates a peer connection backed by the server's shared
// resources.
func (s *Server) NewTransport() (Transport, error) {
	s.mut.RLock()
	api := s.api
	s.mut.RUnlock()

	if api == nil {
		return nil, fmt.Errorf("server is not started")
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: s.cfg.ICEServers.toWebRTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return newPCTransport(pc, s.log, s.metrics), nil
}
