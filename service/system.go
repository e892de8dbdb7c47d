// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const cpuSampleDuration = time.Second

type SystemInfo struct {
	CPULoad        float64 `json:"cpu_load"`
	CPUTime        float64 `json:"cpu_time"`
	ResidentMemory int     `json:"resident_memory"`
	Goroutines     int     `json:"goroutines"`
	Sessions       int     `json:"sessions"`
	Connections    int     `json:"connections"`
}

func (s *Service) getSystemInfo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.NotFound(w, req)
		return
	}

	info := SystemInfo{
		Goroutines:  runtime.NumGoroutine(),
		Sessions:    len(s.coordinator.Sessions()),
		Connections: s.wsServer.ConnCount(),
	}

	// The process load is sampled over a short window.
	st1, err1 := s.proc.Stat()
	t0 := time.Now()
	time.Sleep(cpuSampleDuration)
	st2, err2 := s.proc.Stat()
	t1 := time.Now()
	if err1 == nil && err2 == nil {
		info.CPUTime = st2.CPUTime()
		info.CPULoad = (st2.CPUTime() - st1.CPUTime()) / t1.Sub(t0).Seconds()
		info.ResidentMemory = st2.ResidentMemory()
	} else {
		if err1 != nil {
			s.log.Error("failed to get process stat", mlog.Err(err1))
		}
		if err2 != nil {
			s.log.Error("failed to get process stat", mlog.Err(err2))
		}
	}

	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&info); err != nil {
		s.log.Error("failed to encode data", mlog.Err(err))
	}
}
