// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattermost/switchboard/service/signal"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/webrtc/v4"
)

const trackChSize = 16

type PeerConfig struct {
	// ID uniquely identifies the peer within its session.
	ID string
	// Publisher is the transport carrying media from the client.
	Publisher Transport
	// Subscriber is the transport carrying media to the client.
	Subscriber Transport
	// Events receives the signaling events to be delivered to the client.
	Events chan<- signal.Event
	// SessionEvents receives the topology events for the owning session.
	SessionEvents chan<- SessionEvent
	// SessionDone is closed when the owning session stops consuming events.
	SessionDone <-chan struct{}
	// NewTrack optionally overrides how outgoing tracks are allocated.
	NewTrack TrackFactory
	// BroadcastQueueSize is the per subscriber packet queue size of the
	// routers created for this peer's tracks.
	BroadcastQueueSize int
}

func (c PeerConfig) IsValid() error {
	if c.ID == "" {
		return fmt.Errorf("invalid ID value: should not be empty")
	}
	if c.Publisher == nil {
		return fmt.Errorf("invalid Publisher value: should not be nil")
	}
	if c.Subscriber == nil {
		return fmt.Errorf("invalid Subscriber value: should not be nil")
	}
	if c.Events == nil {
		return fmt.Errorf("invalid Events value: should not be nil")
	}
	if c.SessionEvents == nil {
		return fmt.Errorf("invalid SessionEvents value: should not be nil")
	}
	if c.SessionDone == nil {
		return fmt.Errorf("invalid SessionDone value: should not be nil")
	}
	return nil
}

// Peer is one signaling connected participant. It owns a publisher
// transport (inbound media) and a subscriber transport (outbound media).
type Peer struct {
	cfg     PeerConfig
	pub     Transport
	sub     Transport
	log     mlog.LoggerIFace
	metrics Metrics

	routers     map[string]*Router
	subscribers map[*Subscriber]RTPSender
	mut         sync.Mutex

	pendingCandidates []webrtc.ICECandidateInit
	subRemoteSet      bool
	candidatesMut     sync.Mutex

	negotiateCh chan struct{}
	trackCh     chan RemoteTrack
	closeCh     chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewPeer(cfg PeerConfig, log mlog.LoggerIFace, metrics Metrics) (*Peer, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics should not be nil")
	}

	if cfg.NewTrack == nil {
		cfg.NewTrack = newStaticTrack
	}

	p := &Peer{
		cfg:         cfg,
		pub:         cfg.Publisher,
		sub:         cfg.Subscriber,
		log:         log,
		metrics:     metrics,
		routers:     make(map[string]*Router),
		subscribers: make(map[*Subscriber]RTPSender),
		negotiateCh: make(chan struct{}, 1),
		trackCh:     make(chan RemoteTrack, trackChSize),
		closeCh:     make(chan struct{}),
	}

	p.sub.OnNegotiationNeeded(func() {
		select {
		case p.negotiateCh <- struct{}{}:
		default:
			// A negotiation is already pending.
		}
	})

	p.pub.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		p.emit(signal.TrickleIce{Target: signal.TargetPublisher, Candidate: candidate})
	})

	p.sub.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		p.emit(signal.TrickleIce{Target: signal.TargetSubscriber, Candidate: candidate})
	})

	p.pub.OnTrack(func(track RemoteTrack) {
		select {
		case p.trackCh <- track:
		case <-p.closeCh:
		}
	})

	p.sub.OnClose(p.closeSubscribers)

	p.metrics.IncPeers()

	p.wg.Add(1)
	go p.loop()

	return p, nil
}

func (p *Peer) ID() string {
	return p.cfg.ID
}

func (p *Peer) emit(ev signal.Event) {
	select {
	case p.cfg.Events <- ev:
	case <-p.closeCh:
	}
}

// tryEmit is the non-blocking variant of emit, for senders that must not
// wait on this peer's client.
func (p *Peer) tryEmit(ev signal.Event) bool {
	select {
	case p.cfg.Events <- ev:
		return true
	default:
		return false
	}
}

func (p *Peer) sendSessionEvent(ev SessionEvent) {
	select {
	case p.cfg.SessionEvents <- ev:
	case <-p.cfg.SessionDone:
	}
}

// loop serializes the work triggered by transport callbacks.
func (p *Peer) loop() {
	defer p.wg.Done()
	for {
		select {
		case track := <-p.trackCh:
			p.handleTrack(track)
		case <-p.negotiateCh:
			offer, err := p.SubscriberCreateOffer()
			if err != nil {
				p.log.Error("failed to create subscriber offer", mlog.Err(err), mlog.String("peerID", p.ID()))
				p.metrics.IncRTCErrors("negotiation")
				continue
			}
			p.emit(signal.SubscriberOffer{Desc: offer})
		case <-p.closeCh:
			return
		}
	}
}

func (p *Peer) handleTrack(track RemoteTrack) {
	p.mut.Lock()
	router, ok := p.routers[track.ID()]
	if ok && router.isDone() {
		ok = false
	}
	if !ok {
		router = NewRouter(track.ID(), p.pub, p.cfg.BroadcastQueueSize, p.log, p.metrics)
		p.routers[track.ID()] = router
	}
	p.mut.Unlock()

	router.AddLayer(track)

	// Additional simulcast layers join the existing router.
	if ok {
		return
	}

	// A closing peer doesn't publish. The router ends with the source track.
	select {
	case p.cfg.SessionEvents <- TrackPublished{Router: router}:
	case <-p.cfg.SessionDone:
		return
	case <-p.closeCh:
		return
	}
	p.log.Debug("track published", mlog.String("peerID", p.ID()), mlog.String("trackID", router.ID()))

	go func() {
		<-router.Done()
		p.mut.Lock()
		if p.routers[router.ID()] == router {
			delete(p.routers, router.ID())
		}
		p.mut.Unlock()
		p.log.Debug("track removed", mlog.String("peerID", p.ID()), mlog.String("trackID", router.ID()))
		p.sendSessionEvent(TrackRemoved{ID: router.ID()})
	}()
}

// PublisherGetAnswerForOffer applies a client offer to the publisher
// transport and returns the local answer.
func (p *Peer) PublisherGetAnswerForOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.pub.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to set remote description: %w", ErrNegotiation, err)
	}

	answer, err := p.pub.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to create answer: %w", ErrNegotiation, err)
	}

	if err := p.pub.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to set local description: %w", ErrNegotiation, err)
	}

	local := p.pub.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: local description should not be nil", ErrNegotiation)
	}

	return *local, nil
}

func (p *Peer) SubscriberCreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.sub.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to create offer: %w", ErrNegotiation, err)
	}

	if err := p.sub.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: failed to set local description: %w", ErrNegotiation, err)
	}

	return offer, nil
}

// SubscriberSetAnswer completes a subscriber side exchange and applies any
// candidate received before it, in arrival order.
func (p *Peer) SubscriberSetAnswer(answer webrtc.SessionDescription) error {
	if err := p.sub.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: failed to set remote description: %w", ErrNegotiation, err)
	}

	p.candidatesMut.Lock()
	defer p.candidatesMut.Unlock()

	p.subRemoteSet = true
	for _, candidate := range p.pendingCandidates {
		if err := p.sub.AddICECandidate(candidate); err != nil {
			p.log.Warn("failed to add buffered ICE candidate", mlog.Err(err), mlog.String("peerID", p.ID()))
		}
	}
	p.pendingCandidates = nil

	return nil
}

func (p *Peer) TrickleICECandidate(target signal.Target, candidate webrtc.ICECandidateInit) error {
	switch target {
	case signal.TargetPublisher:
		if err := p.pub.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("failed to add publisher candidate: %w", err)
		}
	case signal.TargetSubscriber:
		p.candidatesMut.Lock()
		defer p.candidatesMut.Unlock()
		if !p.subRemoteSet {
			p.pendingCandidates = append(p.pendingCandidates, candidate)
			return nil
		}
		if err := p.sub.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("failed to add subscriber candidate: %w", err)
		}
	default:
		return target.IsValid()
	}
	return nil
}

// AddMediaTrackSubscriber attaches the subscriber's outgoing track to this
// peer and starts forwarding. The track is removed once forwarding stops.
func (p *Peer) AddMediaTrackSubscriber(s *Subscriber) error {
	select {
	case <-p.closeCh:
		return ErrTransportClosed
	default:
	}

	sender, err := s.AddToTransport(p.sub)
	if err != nil {
		return err
	}

	// Close marks closeCh before collecting subscribers under mut, so
	// checking it under the same lock means either Close sees this
	// subscriber or we see Close.
	p.mut.Lock()
	select {
	case <-p.closeCh:
		p.mut.Unlock()
		s.Close()
		return ErrTransportClosed
	default:
	}
	p.subscribers[s] = sender
	p.mut.Unlock()

	go func() {
		s.Forward()
		p.removeSubscriber(s)
	}()

	return nil
}

func (p *Peer) removeSubscriber(s *Subscriber) {
	p.mut.Lock()
	sender, ok := p.subscribers[s]
	delete(p.subscribers, s)
	p.mut.Unlock()

	if !ok {
		return
	}

	select {
	case <-p.closeCh:
		return
	default:
	}

	if err := p.sub.RemoveTrack(sender); err != nil && !errors.Is(err, ErrTransportClosed) {
		p.log.Debug("failed to remove track", mlog.Err(err), mlog.String("peerID", p.ID()), mlog.String("trackID", s.RouterID()))
	}
}

func (p *Peer) closeSubscribers() {
	p.mut.Lock()
	subs := make([]*Subscriber, 0, len(p.subscribers))
	for s := range p.subscribers {
		subs = append(subs, s)
	}
	p.mut.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Close closes both transports. Only the first call has any effect.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeCh)

		if pubErr := p.pub.Close(); pubErr != nil {
			err = fmt.Errorf("failed to close publisher: %w", pubErr)
		}
		if subErr := p.sub.Close(); subErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close subscriber: %w", subErr))
		}

		p.closeSubscribers()
		p.wg.Wait()
		p.metrics.DecPeers()
	})
	return err
}
