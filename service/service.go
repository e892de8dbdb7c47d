// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mattermost/switchboard/logger"
	"github.com/mattermost/switchboard/service/api"
	"github.com/mattermost/switchboard/service/perf"
	"github.com/mattermost/switchboard/service/sfu"
	"github.com/mattermost/switchboard/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
)

type Service struct {
	cfg         Config
	apiServer   *api.Server
	wsServer    *ws.Server
	sfuServer   *sfu.Server
	coordinator *sfu.LocalCoordinator
	metrics     *perf.Metrics
	proc        procfs.Proc
	log         *mlog.Logger
	startTime   time.Time

	stopping bool
	connsWg  sync.WaitGroup
	mut      sync.Mutex
}

func New(cfg Config) (*Service, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		log:       log,
		metrics:   perf.NewMetrics(serviceName, nil),
		startTime: time.Now(),
	}

	s.log.Info("switchboard: starting up", BuildInfo().logFields()...)

	s.proc, err = procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}

	s.coordinator, err = sfu.NewLocalCoordinator(log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	s.sfuServer, err = sfu.NewServer(cfg.SFU, log, s.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create sfu server: %w", err)
	}

	s.apiServer, err = api.NewServer(cfg.API, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create api server: %w", err)
	}

	s.wsServer, err = ws.NewServer(cfg.WS, log, s.handleConn, ws.WithUpgradeCb(s.wsUpgradeCb))
	if err != nil {
		return nil, fmt.Errorf("failed to create ws server: %w", err)
	}

	s.apiServer.RegisterHandleFunc("/version", s.getVersion)
	s.apiServer.RegisterHandleFunc("/system", s.getSystemInfo)
	s.apiServer.RegisterHandler("/metrics", s.metrics.Handler())
	s.apiServer.RegisterHandler("/ws", s.wsServer)

	return s, nil
}

func (s *Service) wsUpgradeCb(connID string, w http.ResponseWriter, _ *http.Request) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.stopping {
		http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
		return fmt.Errorf("refusing connection %s: service is shutting down", connID)
	}
	return nil
}

func (s *Service) Start() error {
	if err := s.sfuServer.Start(); err != nil {
		return fmt.Errorf("failed to start sfu server: %w", err)
	}

	if err := s.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}

	return nil
}

func (s *Service) Stop() error {
	s.log.Info("switchboard: shutting down")

	s.mut.Lock()
	s.stopping = true
	s.mut.Unlock()

	if err := s.apiServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop api server: %w", err)
	}

	// Signaling connections are hijacked so they need closing on their own.
	s.wsServer.Close()
	s.connsWg.Wait()

	if err := s.sfuServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop sfu server: %w", err)
	}

	return s.log.Shutdown()
}
