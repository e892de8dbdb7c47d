// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"fmt"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/logging"
)

// pionLogger routes the transport engine's logs into mlog. Its debug
// output is very chatty so it's demoted to trace.
type pionLogger struct {
	log   mlog.LoggerIFace
	scope string
}

func newPionLeveledLogger(log mlog.LoggerIFace, scope string) logging.LeveledLogger {
	return &pionLogger{
		log:   log,
		scope: scope,
	}
}

func (l *pionLogger) field() mlog.Field {
	return mlog.String("scope", l.scope)
}

func (l *pionLogger) Trace(msg string) {
	l.log.Trace(msg, l.field())
}

func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.log.Trace(fmt.Sprintf(format, args...), l.field())
}

func (l *pionLogger) Debug(msg string) {
	l.log.Trace(msg, l.field())
}

func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace(fmt.Sprintf(format, args...), l.field())
}

func (l *pionLogger) Info(msg string) {
	l.log.Info(msg, l.field())
}

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...), l.field())
}

func (l *pionLogger) Warn(msg string) {
	l.log.Warn(msg, l.field())
}

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), l.field())
}

func (l *pionLogger) Error(msg string) {
	l.log.Error(msg, l.field())
}

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), l.field())
}
