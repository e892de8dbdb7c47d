// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mattermost/switchboard/service/signal"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

const sessionEventChSize = 64

// SessionEvent is a topology change reported by a peer to its session.
type SessionEvent interface {
	sessionEvent()
}

type TrackPublished struct {
	Router *Router
}

type TrackRemoved struct {
	ID string
}

func (TrackPublished) sessionEvent() {}
func (TrackRemoved) sessionEvent()   {}

// Session is a room. Every peer in it is subscribed to every router in it.
type Session struct {
	id      string
	log     mlog.LoggerIFace
	metrics Metrics

	peers   map[string]*Peer
	routers map[string]*Router
	closed  bool
	onEmpty func(s *Session)
	mut     sync.Mutex

	presence    map[string]json.RawMessage
	revision    uint64
	presenceMut sync.Mutex

	eventCh chan SessionEvent
	closeCh chan struct{}
}

func newSession(id string, log mlog.LoggerIFace, metrics Metrics, onEmpty func(s *Session)) *Session {
	s := &Session{
		id:       id,
		log:      log,
		metrics:  metrics,
		peers:    make(map[string]*Peer),
		routers:  make(map[string]*Router),
		onEmpty:  onEmpty,
		presence: make(map[string]json.RawMessage),
		eventCh:  make(chan SessionEvent, sessionEventChSize),
		closeCh:  make(chan struct{}),
	}

	s.metrics.IncSessions()

	go s.eventLoop()

	return s
}

func (s *Session) ID() string {
	return s.id
}

// EventCh is where peers report their published and removed tracks.
func (s *Session) EventCh() chan<- SessionEvent {
	return s.eventCh
}

// Done is closed once the session stopped processing events.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// AddPeer subscribes the peer to every router currently registered and
// registers it.
func (s *Session) AddPeer(id string, peer *Peer) error {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return ErrSessionClosed
	}
	if _, ok := s.peers[id]; ok {
		s.mut.Unlock()
		return fmt.Errorf("failed to add peer %s: %w", id, ErrDuplicatePeer)
	}
	routers := make([]*Router, 0, len(s.routers))
	for _, r := range s.routers {
		routers = append(routers, r)
	}
	// Registering under the same lock as the snapshot guarantees that any
	// router published from now on will see this peer.
	s.peers[id] = peer
	s.mut.Unlock()

	for _, r := range routers {
		s.subscribe(peer, r)
	}

	s.log.Debug("peer added", mlog.String("sessionID", s.id), mlog.String("peerID", id), mlog.Int("routers", len(routers)))

	return nil
}

// RemovePeer removes and closes the peer. Its routers go away on their
// own once their source tracks end.
func (s *Session) RemovePeer(id string) error {
	s.mut.Lock()
	peer, ok := s.peers[id]
	if !ok {
		s.mut.Unlock()
		return fmt.Errorf("peer %s not found", id)
	}
	delete(s.peers, id)
	empty := len(s.peers) == 0
	s.mut.Unlock()

	if err := peer.Close(); err != nil {
		s.log.Warn("failed to close peer", mlog.Err(err), mlog.String("sessionID", s.id), mlog.String("peerID", id))
	}

	s.log.Debug("peer removed", mlog.String("sessionID", s.id), mlog.String("peerID", id))

	s.removePresence(id)

	if empty && s.onEmpty != nil {
		s.onEmpty(s)
	}

	return nil
}

func (s *Session) subscribe(peer *Peer, router *Router) {
	sub, err := router.AddSubscriber(peer.cfg.NewTrack)
	if err != nil {
		s.log.Warn("failed to subscribe peer to router", mlog.Err(err),
			mlog.String("sessionID", s.id), mlog.String("peerID", peer.ID()), mlog.String("routerID", router.ID()))
		return
	}
	if err := peer.AddMediaTrackSubscriber(sub); err != nil {
		sub.Close()
		s.log.Warn("failed to add subscriber to peer", mlog.Err(err),
			mlog.String("sessionID", s.id), mlog.String("peerID", peer.ID()), mlog.String("routerID", router.ID()))
	}
}

func (s *Session) eventLoop() {
	for {
		select {
		case ev := <-s.eventCh:
			switch e := ev.(type) {
			case TrackPublished:
				s.addRouter(e.Router)
			case TrackRemoved:
				s.removeRouter(e.ID)
			default:
				s.log.Error("unexpected session event", mlog.Any("event", ev))
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) addRouter(router *Router) {
	s.mut.Lock()
	if _, ok := s.routers[router.ID()]; ok {
		s.log.Warn("router already registered, replacing", mlog.String("sessionID", s.id), mlog.String("routerID", router.ID()))
	}
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.routers[router.ID()] = router
	s.mut.Unlock()

	for _, p := range peers {
		s.subscribe(p, router)
	}

	s.log.Debug("router added", mlog.String("sessionID", s.id), mlog.String("routerID", router.ID()), mlog.Int("peers", len(peers)))
}

func (s *Session) removeRouter(id string) {
	s.mut.Lock()
	router, ok := s.routers[id]
	if ok && router.isDone() {
		delete(s.routers, id)
	}
	s.mut.Unlock()

	s.log.Debug("router removed", mlog.String("sessionID", s.id), mlog.String("routerID", id))
}

// Peers returns the ids of the peers currently in the session.
func (s *Session) Peers() []string {
	s.mut.Lock()
	defer s.mut.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// Routers returns the ids of the routers currently in the session.
func (s *Session) Routers() []string {
	s.mut.Lock()
	defer s.mut.Unlock()
	ids := make([]string, 0, len(s.routers))
	for id := range s.routers {
		ids = append(ids, id)
	}
	return ids
}

// SetPresence merges the peer's metadata into the room presence and
// broadcasts the result to every peer. It returns the new revision.
func (s *Session) SetPresence(peerID string, meta json.RawMessage) (uint64, error) {
	s.presenceMut.Lock()
	defer s.presenceMut.Unlock()

	prev, hadPrev := s.presence[peerID]
	s.presence[peerID] = meta
	rev, err := s.broadcastPresence()
	if err != nil {
		if hadPrev {
			s.presence[peerID] = prev
		} else {
			delete(s.presence, peerID)
		}
		return 0, err
	}

	return rev, nil
}

func (s *Session) removePresence(peerID string) {
	s.presenceMut.Lock()
	defer s.presenceMut.Unlock()

	if _, ok := s.presence[peerID]; !ok {
		return
	}
	delete(s.presence, peerID)
	if _, err := s.broadcastPresence(); err != nil {
		s.log.Error("failed to broadcast presence", mlog.Err(err), mlog.String("sessionID", s.id))
	}
}

// broadcastPresence must be called with presenceMut held so that revisions
// reach every peer in order. Delivery never blocks: a peer that isn't
// draining its events misses the revision, and the next one carries the
// whole room state anyway.
func (s *Session) broadcastPresence() (uint64, error) {
	meta, err := json.Marshal(s.presence)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal presence: %w", err)
	}
	s.revision++
	ev := signal.Presence{
		Revision: s.revision,
		Meta:     meta,
	}

	s.mut.Lock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mut.Unlock()

	for _, p := range peers {
		if !p.tryEmit(ev) {
			s.log.Warn("events channel is full, dropping presence",
				mlog.String("sessionID", s.id), mlog.String("peerID", p.ID()), mlog.Uint("revision", s.revision))
			s.metrics.IncSignalDroppedEvents("presence")
		}
	}

	return s.revision, nil
}

// tryClose stops the session if it has no peers. It's called by the
// coordinator with its own lock held.
func (s *Session) tryClose() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed || len(s.peers) > 0 {
		return false
	}
	s.closed = true
	close(s.closeCh)
	s.metrics.DecSessions()
	return true
}

// ReleaseIfEmpty hands an empty session back to its coordinator. It's
// meant for callers that obtained the session but failed to join it.
func (s *Session) ReleaseIfEmpty() {
	s.mut.Lock()
	empty := len(s.peers) == 0
	s.mut.Unlock()

	if empty && s.onEmpty != nil {
		s.onEmpty(s)
	}
}
