// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package signal

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mattermost/switchboard/service/jsonrpc"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	MethodJoin        = "join"
	MethodOffer       = "offer"
	MethodTrickle     = "trickle"
	MethodAnswer      = "answer"
	MethodPresenceSet = "presence_set"
	MethodPresence    = "presence"
)

const (
	receiveChSize = 32
	sendChSize    = 64
)

type JoinParams struct {
	SID   string                    `json:"sid"`
	UID   string                    `json:"uid,omitempty"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type DescParams struct {
	Desc webrtc.SessionDescription `json:"desc"`
}

type TrickleParams struct {
	Target    Target                  `json:"target"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PresenceParams struct {
	Revision uint64          `json:"revision"`
	Meta     json.RawMessage `json:"meta"`
}

// RPC is a stream of decoded JSON-RPC messages.
type RPC interface {
	ReceiveCh() <-chan jsonrpc.Message
	Send(msg jsonrpc.Message) error
}

// Signal translates between JSON-RPC messages and typed events for a single
// client connection.
type Signal struct {
	rpc       RPC
	log       mlog.LoggerIFace
	receiveCh chan Event
	sendCh    chan Event
	closeCh   chan struct{}
	closed    bool
	mut       sync.Mutex
	wg        sync.WaitGroup
}

func New(rpc RPC, log mlog.LoggerIFace) (*Signal, error) {
	if rpc == nil {
		return nil, fmt.Errorf("rpc should not be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	s := &Signal{
		rpc:       rpc,
		log:       log,
		receiveCh: make(chan Event, receiveChSize),
		sendCh:    make(chan Event, sendChSize),
		closeCh:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writer()
	go s.reader()

	return s, nil
}

// ReceiveCh returns the events parsed from the client. It's closed once
// the underlying connection stops delivering messages.
func (s *Signal) ReceiveCh() <-chan Event {
	return s.receiveCh
}

// SendCh accepts the events to be delivered to the client.
func (s *Signal) SendCh() chan<- Event {
	return s.sendCh
}

// Close stops the writer and any pending reply waiter.
func (s *Signal) Close() {
	s.mut.Lock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	s.mut.Unlock()
	s.wg.Wait()
}

func (s *Signal) reader() {
	defer close(s.receiveCh)

	for msg := range s.rpc.ReceiveCh() {
		var ev Event
		switch m := msg.(type) {
		case *jsonrpc.Request:
			ev = s.handleRequest(m)
		case *jsonrpc.Notification:
			ev = s.handleNotification(m)
		case *jsonrpc.Response:
			s.log.Warn("signal: unexpected response", mlog.String("id", m.ID.String()))
		}

		if ev == nil {
			continue
		}

		select {
		case s.receiveCh <- ev:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Signal) handleRequest(req *jsonrpc.Request) Event {
	switch req.Method {
	case MethodJoin:
		var params JoinParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.SID == "" {
			s.replyError(req.ID, jsonrpc2.CodeInvalidParams, "invalid join params")
			return nil
		}
		return JoinRequest{
			SID:   params.SID,
			UID:   params.UID,
			Offer: params.Offer,
			Reply: s.waitReply(req.ID),
		}
	case MethodOffer:
		var params DescParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.replyError(req.ID, jsonrpc2.CodeInvalidParams, "invalid offer params")
			return nil
		}
		return PublisherOffer{
			Desc:  params.Desc,
			Reply: s.waitReply(req.ID),
		}
	case MethodPresenceSet, MethodTrickle, MethodAnswer:
		// Notification methods sent as requests are acknowledged once parsed.
		ev := s.handleNotification(&jsonrpc.Notification{Method: req.Method, Params: req.Params})
		if ev == nil {
			s.replyError(req.ID, jsonrpc2.CodeInvalidParams, fmt.Sprintf("invalid %s params", req.Method))
			return nil
		}
		s.reply(req.ID, struct{}{})
		return ev
	default:
		s.log.Debug("signal: unknown request method", mlog.String("method", req.Method))
		s.replyError(req.ID, jsonrpc2.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		return nil
	}
}

func (s *Signal) handleNotification(n *jsonrpc.Notification) Event {
	switch n.Method {
	case MethodTrickle:
		var params TrickleParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			s.log.Warn("signal: invalid trickle params", mlog.Err(err))
			return nil
		}
		if err := params.Target.IsValid(); err != nil {
			s.log.Warn("signal: invalid trickle params", mlog.Err(err))
			return nil
		}
		return TrickleIce{
			Target:    params.Target,
			Candidate: params.Candidate,
		}
	case MethodAnswer:
		var params DescParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			s.log.Warn("signal: invalid answer params", mlog.Err(err))
			return nil
		}
		return SubscriberAnswer{Desc: params.Desc}
	case MethodPresenceSet:
		if len(n.Params) == 0 || !json.Valid(n.Params) {
			s.log.Warn("signal: invalid presence params")
			return nil
		}
		return Presence{Meta: n.Params}
	default:
		s.log.Debug("signal: dropping unknown notification", mlog.String("method", n.Method))
		return nil
	}
}

// waitReply returns the channel the reply for request id should be sent
// to. The response is written once a reply arrives.
func (s *Signal) waitReply(id jsonrpc2.ID) chan<- Reply {
	replyCh := make(chan Reply, 1)

	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return replyCh
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case r := <-replyCh:
			if r.Err != nil {
				s.replyError(id, jsonrpc2.CodeInternalError, r.Err.Error())
				return
			}
			if r.Desc == nil {
				s.replyError(id, jsonrpc2.CodeInternalError, "missing session description")
				return
			}
			s.reply(id, r.Desc)
		case <-s.closeCh:
		}
	}()

	return replyCh
}

func (s *Signal) reply(id jsonrpc2.ID, result interface{}) {
	resp, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		s.log.Error("signal: failed to create response", mlog.Err(err))
		s.replyError(id, jsonrpc2.CodeInternalError, "failed to marshal result")
		return
	}
	s.send(resp)
}

func (s *Signal) replyError(id jsonrpc2.ID, code int64, msg string) {
	s.send(jsonrpc.NewErrorResponse(id, code, msg))
}

func (s *Signal) notify(method string, params interface{}) {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		s.log.Error("signal: failed to create notification", mlog.Err(err), mlog.String("method", method))
		return
	}
	s.send(n)
}

func (s *Signal) send(msg jsonrpc.Message) {
	if err := s.rpc.Send(msg); err != nil {
		s.log.Error("signal: failed to send message", mlog.Err(err))
	}
}

func (s *Signal) writer() {
	defer s.wg.Done()

	for {
		select {
		case ev := <-s.sendCh:
			switch e := ev.(type) {
			case SubscriberOffer:
				s.notify(MethodOffer, e.Desc)
			case TrickleIce:
				s.notify(MethodTrickle, TrickleParams{
					Target:    e.Target,
					Candidate: e.Candidate,
				})
			case Presence:
				s.notify(MethodPresence, PresenceParams{
					Revision: e.Revision,
					Meta:     e.Meta,
				})
			default:
				s.log.Error("signal: unexpected outgoing event", mlog.String("event", ev.Name()))
			}
		case <-s.closeCh:
			return
		}
	}
}
