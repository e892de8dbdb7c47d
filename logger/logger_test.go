// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/stretchr/testify/require"
)

func TestGetLevels(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		levels := getLevels("")
		require.Equal(t, levels, mlog.StdAll)
	})

	t.Run("invalid input", func(t *testing.T) {
		levels := getLevels("invalid")
		require.Equal(t, levels, mlog.StdAll)
	})

	t.Run("debug", func(t *testing.T) {
		levels := getLevels("DEBUG")
		require.Equal(t, []mlog.Level{
			mlog.LvlPanic,
			mlog.LvlFatal,
			mlog.LvlError,
			mlog.LvlWarn,
			mlog.LvlInfo,
			mlog.LvlDebug,
		}, levels)
	})

	t.Run("info", func(t *testing.T) {
		levels := getLevels("INFO")
		require.Equal(t, []mlog.Level{
			mlog.LvlPanic,
			mlog.LvlFatal,
			mlog.LvlError,
			mlog.LvlWarn,
			mlog.LvlInfo,
		}, levels)
	})

	t.Run("error", func(t *testing.T) {
		levels := getLevels("ERROR")
		require.Equal(t, []mlog.Level{
			mlog.LvlPanic,
			mlog.LvlFatal,
			mlog.LvlError,
		}, levels)
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("empty cfg", func(t *testing.T) {
		var cfg Config
		logger, err := New(cfg)
		require.Nil(t, logger)
		require.Error(t, err)
	})

	t.Run("invalid cfg", func(t *testing.T) {
		var cfg Config
		cfg.EnableConsole = true
		cfg.ConsoleLevel = "INVALID"
		logger, err := New(cfg)
		require.Nil(t, logger)
		require.Error(t, err)
		require.Equal(t, `invalid ConsoleLevel value "INVALID"`, err.Error())
	})

	t.Run("valid cfg", func(t *testing.T) {
		var cfg Config
		cfg.EnableConsole = true
		cfg.ConsoleLevel = "INFO"
		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
		require.NoError(t, logger.Shutdown())
	})

	t.Run("file target", func(t *testing.T) {
		var cfg Config
		cfg.EnableFile = true
		cfg.FileJSON = true
		cfg.FileLevel = "DEBUG"
		cfg.FileLocation = filepath.Join(t.TempDir(), "switchboard.log")
		logger, err := New(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)

		logger.Info("test message", mlog.String("key", "value"))
		require.NoError(t, logger.Shutdown())

		data, err := os.ReadFile(cfg.FileLocation)
		require.NoError(t, err)
		require.Contains(t, string(data), "test message")
		require.Contains(t, string(data), "value")
	})
}

func TestGetTargets(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		targets, err := getTargets(Config{EnableConsole: true, ConsoleLevel: "INFO"})
		require.NoError(t, err)
		require.Len(t, targets, 1)
		require.Equal(t, "console", targets["_defConsole"].Type)
		require.Equal(t, "plain", targets["_defConsole"].Format)
	})

	t.Run("file defaults", func(t *testing.T) {
		targets, err := getTargets(Config{EnableFile: true, FileLevel: "INFO", FileLocation: "switchboard.log"})
		require.NoError(t, err)
		require.Len(t, targets, 1)
		require.JSONEq(t, `{"filename": "switchboard.log", "max_size": 100, "max_age": 0, "max_backups": 0, "compress": true}`,
			string(targets["_defFile"].Options))
	})
}
