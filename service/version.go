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

const serviceName = "switchboard"

// Set at link time through -ldflags "-X".
var (
	buildVersion string
	buildHash    string
	buildDate    string
)

type VersionInfo struct {
	Name         string `json:"name"`
	BuildDate    string `json:"buildDate"`
	BuildVersion string `json:"buildVersion"`
	BuildHash    string `json:"buildHash"`
	GoVersion    string `json:"goVersion"`
	GoOS         string `json:"goOS"`
	GoArch       string `json:"goArch"`
	// Uptime is in seconds. Zero until the service is created.
	Uptime int64 `json:"uptime"`
}

func getVersionInfo(startTime time.Time) VersionInfo {
	info := VersionInfo{
		Name:         serviceName,
		BuildDate:    buildDate,
		BuildVersion: buildVersion,
		BuildHash:    buildHash,
		GoVersion:    runtime.Version(),
		GoOS:         runtime.GOOS,
		GoArch:       runtime.GOARCH,
	}
	if !startTime.IsZero() {
		info.Uptime = int64(time.Since(startTime).Seconds())
	}
	return info
}

// BuildInfo returns the version information of the running binary.
func BuildInfo() VersionInfo {
	return getVersionInfo(time.Time{})
}

func (v VersionInfo) logFields() []mlog.Field {
	return []mlog.Field{
		mlog.String("buildDate", v.BuildDate),
		mlog.String("buildVersion", v.BuildVersion),
		mlog.String("buildHash", v.BuildHash),
		mlog.String("goVersion", v.GoVersion),
		mlog.String("goOS", v.GoOS),
		mlog.String("goArch", v.GoArch),
	}
}

func (s *Service) getVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.NotFound(w, req)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(getVersionInfo(s.startTime)); err != nil {
		s.log.Error("failed to encode version info", mlog.Err(err))
	}
}
