// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"errors"
	"fmt"

	"github.com/mattermost/switchboard/service/jsonrpc"
	"github.com/mattermost/switchboard/service/random"
	"github.com/mattermost/switchboard/service/sfu"
	"github.com/mattermost/switchboard/service/signal"
	"github.com/mattermost/switchboard/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/webrtc/v4"
)

const (
	peerEventsChSize = 256
	maxJoinAttempts  = 3
)

var (
	errNotJoined     = errors.New("peer has not joined a session")
	errAlreadyJoined = errors.New("peer has already joined a session")
)

// connection holds the state of a single signaling client.
type connection struct {
	id          string
	srvc        *Service
	sig         *signal.Signal
	events      chan signal.Event
	coordinator sfu.Coordinator
	transports  sfu.TransportFactory
	log         mlog.LoggerIFace

	peer *sfu.Peer
	sess *sfu.Session
}

func (s *Service) handleConn(conn *ws.Conn) {
	s.mut.Lock()
	if s.stopping {
		s.mut.Unlock()
		return
	}
	s.connsWg.Add(1)
	s.mut.Unlock()
	defer s.connsWg.Done()

	s.metrics.IncSignalConnections()
	defer s.metrics.DecSignalConnections()

	rpc, err := jsonrpc.NewConn(conn, s.log)
	if err != nil {
		s.log.Error("failed to create rpc conn", mlog.Err(err), mlog.String("connID", conn.ID()))
		return
	}

	sig, err := signal.New(rpc, s.log)
	if err != nil {
		s.log.Error("failed to create signal", mlog.Err(err), mlog.String("connID", conn.ID()))
		return
	}

	c := &connection{
		id:          conn.ID(),
		srvc:        s,
		sig:         sig,
		events:      make(chan signal.Event, peerEventsChSize),
		coordinator: s.coordinator,
		transports:  s.sfuServer,
		log:         s.log,
	}
	defer c.close()

	for {
		select {
		case ev, ok := <-sig.ReceiveCh():
			if !ok {
				return
			}
			s.metrics.IncSignalMessages(ev.Name(), "in")
			c.handleEvent(ev)
		case ev := <-c.events:
			select {
			case sig.SendCh() <- ev:
				s.metrics.IncSignalMessages(ev.Name(), "out")
			case <-conn.Done():
				return
			}
		}
	}
}

func (c *connection) handleEvent(ev signal.Event) {
	switch e := ev.(type) {
	case signal.JoinRequest:
		desc, err := c.join(e)
		c.reply(e.Reply, desc, err)
	case signal.PublisherOffer:
		if c.peer == nil {
			c.reply(e.Reply, nil, errNotJoined)
			return
		}
		answer, err := c.peer.PublisherGetAnswerForOffer(e.Desc)
		if err != nil {
			c.srvc.metrics.IncRTCErrors("negotiation")
			c.reply(e.Reply, nil, err)
			return
		}
		c.reply(e.Reply, &answer, nil)
	case signal.SubscriberAnswer:
		if c.peer == nil {
			c.log.Warn("answer received before join", mlog.String("connID", c.id))
			return
		}
		if err := c.peer.SubscriberSetAnswer(e.Desc); err != nil {
			c.srvc.metrics.IncRTCErrors("negotiation")
			c.log.Error("failed to set subscriber answer", mlog.Err(err), mlog.String("peerID", c.peer.ID()))
		}
	case signal.TrickleIce:
		if c.peer == nil {
			c.log.Warn("candidate received before join", mlog.String("connID", c.id))
			return
		}
		if err := c.peer.TrickleICECandidate(e.Target, e.Candidate); err != nil {
			c.log.Warn("failed to add ICE candidate", mlog.Err(err),
				mlog.String("peerID", c.peer.ID()), mlog.String("target", e.Target.String()))
		}
	case signal.Presence:
		if c.peer == nil {
			c.log.Warn("presence received before join", mlog.String("connID", c.id))
			return
		}
		if _, err := c.sess.SetPresence(c.peer.ID(), e.Meta); err != nil {
			c.log.Error("failed to set presence", mlog.Err(err), mlog.String("peerID", c.peer.ID()))
		}
	default:
		c.log.Warn("unexpected event", mlog.String("event", ev.Name()), mlog.String("connID", c.id))
	}
}

func (c *connection) reply(replyCh chan<- signal.Reply, desc *webrtc.SessionDescription, err error) {
	select {
	case replyCh <- signal.Reply{Desc: desc, Err: err}:
	default:
		c.log.Error("failed to send reply: channel is full", mlog.String("connID", c.id))
	}
}

// join creates the peer, answers its publisher offer and registers it with
// the requested session. A session being evicted concurrently is retried
// with a fresh one.
func (c *connection) join(req signal.JoinRequest) (*webrtc.SessionDescription, error) {
	if c.peer != nil {
		return nil, errAlreadyJoined
	}

	peerID := req.UID
	if peerID == "" {
		peerID = random.NewID()
	}

	for attempt := 1; attempt <= maxJoinAttempts; attempt++ {
		sess := c.coordinator.GetOrCreateSession(req.SID)

		peer, answer, err := c.newPeer(peerID, sess, req.Offer)
		if err != nil {
			sess.ReleaseIfEmpty()
			return nil, err
		}

		err = sess.AddPeer(peerID, peer)
		if errors.Is(err, sfu.ErrSessionClosed) {
			c.log.Debug("session closed while joining, retrying", mlog.String("sessionID", req.SID), mlog.Int("attempt", attempt))
			c.closePeer(peer)
			continue
		} else if err != nil {
			c.closePeer(peer)
			sess.ReleaseIfEmpty()
			return nil, err
		}

		c.peer = peer
		c.sess = sess

		c.log.Info("peer joined", mlog.String("sessionID", req.SID), mlog.String("peerID", peerID), mlog.String("connID", c.id))

		return answer, nil
	}

	return nil, fmt.Errorf("failed to join session %s: %w", req.SID, sfu.ErrSessionClosed)
}

func (c *connection) newPeer(id string, sess *sfu.Session, offer webrtc.SessionDescription) (*sfu.Peer, *webrtc.SessionDescription, error) {
	pub, err := c.transports.NewTransport()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create publisher transport: %w", err)
	}

	sub, err := c.transports.NewTransport()
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("failed to create subscriber transport: %w", err)
	}

	peer, err := sfu.NewPeer(sfu.PeerConfig{
		ID:                 id,
		Publisher:          pub,
		Subscriber:         sub,
		Events:             c.events,
		SessionEvents:      sess.EventCh(),
		SessionDone:        sess.Done(),
		BroadcastQueueSize: c.srvc.cfg.SFU.BroadcastQueueSize,
	}, c.log, c.srvc.metrics)
	if err != nil {
		_ = pub.Close()
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to create peer: %w", err)
	}

	answer, err := peer.PublisherGetAnswerForOffer(offer)
	if err != nil {
		c.srvc.metrics.IncRTCErrors("negotiation")
		c.closePeer(peer)
		return nil, nil, err
	}

	return peer, &answer, nil
}

func (c *connection) closePeer(peer *sfu.Peer) {
	if err := peer.Close(); err != nil {
		c.log.Warn("failed to close peer", mlog.Err(err), mlog.String("peerID", peer.ID()))
	}
}

// close leaves the session, if any, before stopping the signaling pumps so
// that the peer's pending events unblock.
func (c *connection) close() {
	if c.sess != nil {
		if err := c.sess.RemovePeer(c.peer.ID()); err != nil {
			c.log.Warn("failed to remove peer", mlog.Err(err), mlog.String("peerID", c.peer.ID()))
		}
		c.log.Info("peer left", mlog.String("sessionID", c.sess.ID()), mlog.String("peerID", c.peer.ID()))
	}
	c.sig.Close()
}
