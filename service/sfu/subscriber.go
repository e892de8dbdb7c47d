// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

type subscriberConfig struct {
	source      RemoteTrack
	packetCh    <-chan Packet
	unsubscribe func()
	feedbackCh  chan<- Feedback
	newTrack    TrackFactory
}

// Subscriber adapts a router's broadcast into one outgoing track with its
// own timestamp and sequence number space.
type Subscriber struct {
	routerID  string
	trackType string
	track     LocalTrack
	log       mlog.LoggerIFace
	metrics   Metrics

	packetCh    <-chan Packet
	unsubscribe func()
	feedbackCh  chan<- Feedback

	layer    Layer
	layerMut sync.RWMutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newSubscriber(cfg subscriberConfig, log mlog.LoggerIFace, metrics Metrics) (*Subscriber, error) {
	newTrack := cfg.newTrack
	if newTrack == nil {
		newTrack = newStaticTrack
	}

	src := cfg.source
	track, err := newTrack(src.Codec().RTPCodecCapability, src.ID(), src.StreamID())
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	return &Subscriber{
		routerID:    src.ID(),
		trackType:   src.Kind().String(),
		track:       track,
		log:         log,
		metrics:     metrics,
		packetCh:    cfg.packetCh,
		unsubscribe: cfg.unsubscribe,
		feedbackCh:  cfg.feedbackCh,
		closeCh:     make(chan struct{}),
	}, nil
}

func (s *Subscriber) RouterID() string {
	return s.routerID
}

func (s *Subscriber) Track() LocalTrack {
	return s.track
}

func (s *Subscriber) lockedLayer() Layer {
	s.layerMut.RLock()
	defer s.layerMut.RUnlock()
	return s.layer
}

// Close stops the forward loop and leaves the router's broadcast, even if
// Forward never ran. It's safe to call multiple times.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.unsubscribe()
	})
}

// Forward writes packets from the router to the outgoing track until the
// router is done, the subscriber is closed or the destination goes away.
func (s *Subscriber) Forward() {
	defer s.unsubscribe()

	var currTS uint32
	var seq uint16
	var locked bool
	var layer Layer

	for {
		var p Packet
		var ok bool
		select {
		case p, ok = <-s.packetCh:
			if !ok {
				return
			}
		case <-s.closeCh:
			return
		}

		if !locked {
			layer = p.Layer
			locked = true
			s.layerMut.Lock()
			s.layer = layer
			s.layerMut.Unlock()
			s.log.Debug("subscriber: locked to layer", mlog.String("routerID", s.routerID), mlog.String("layer", layer.String()))
		} else if p.Layer != layer {
			continue
		}

		currTS += p.RTP.Timestamp

		pkt := &rtp.Packet{
			Header:  p.RTP.Header.Clone(),
			Payload: p.RTP.Payload,
		}
		pkt.Timestamp = currTS
		pkt.SequenceNumber = seq
		seq++

		if err := s.track.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				s.log.Debug("subscriber: destination closed", mlog.String("routerID", s.routerID))
				return
			}
			s.log.Error("subscriber: failed to write RTP packet", mlog.Err(err), mlog.String("routerID", s.routerID))
			continue
		}

		s.metrics.IncRTPPackets("out", s.trackType)
		s.metrics.AddRTPPacketBytes("out", s.trackType, len(pkt.Payload))
	}
}

// AddToTransport attaches the outgoing track to dst and starts consuming
// the RTCP feedback for it.
func (s *Subscriber) AddToTransport(dst Transport) (RTPSender, error) {
	sender, err := dst.AddTrack(s.track)
	if err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	go s.readRTCP(sender)

	return sender, nil
}

func (s *Subscriber) readRTCP(sender RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Error("subscriber: failed to read RTCP packet", mlog.Err(err), mlog.String("routerID", s.routerID))
			}
			return
		}

		for _, pkt := range pkts {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				s.sendFeedback(Feedback{Type: FeedbackPictureLoss, Layer: s.lockedLayer()})
			case *rtcp.ReceiverReport:
				// Reports are not acted upon yet.
				s.log.Trace("subscriber: receiver report", mlog.Uint("ssrc", p.SSRC), mlog.Int("reports", len(p.Reports)))
			}
		}
	}
}

func (s *Subscriber) sendFeedback(fb Feedback) {
	select {
	case s.feedbackCh <- fb:
	default:
		s.log.Warn("subscriber: feedback channel is full", mlog.String("routerID", s.routerID))
	}
}
