// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"fmt"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// Coordinator is the registry of the rooms hosted by the process.
type Coordinator interface {
	GetOrCreateSession(id string) *Session
}

// LocalCoordinator keeps every session in memory. A session is evicted
// as soon as its last peer leaves.
type LocalCoordinator struct {
	log     mlog.LoggerIFace
	metrics Metrics

	sessions map[string]*Session
	mut      sync.Mutex
}

func NewLocalCoordinator(log mlog.LoggerIFace, metrics Metrics) (*LocalCoordinator, error) {
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}

	return &LocalCoordinator{
		log:      log,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}, nil
}

func (c *LocalCoordinator) GetOrCreateSession(id string) *Session {
	c.mut.Lock()
	defer c.mut.Unlock()

	if s, ok := c.sessions[id]; ok {
		return s
	}

	s := newSession(id, c.log, c.metrics, c.evict)
	c.sessions[id] = s

	c.log.Debug("session created", mlog.String("sessionID", id))

	return s
}

func (c *LocalCoordinator) evict(s *Session) {
	c.mut.Lock()
	defer c.mut.Unlock()

	// The registered session could be a newer one with the same id.
	if c.sessions[s.ID()] != s {
		return
	}

	if !s.tryClose() {
		return
	}

	delete(c.sessions, s.ID())

	c.log.Debug("session evicted", mlog.String("sessionID", s.ID()))
}

// Sessions returns the ids of the sessions currently registered.
func (c *LocalCoordinator) Sessions() []string {
	c.mut.Lock()
	defer c.mut.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}
