// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// pcTransport adapts a pion peer connection to the Transport interface.
type pcTransport struct {
	pc      *webrtc.PeerConnection
	log     mlog.LoggerIFace
	metrics Metrics

	mut       sync.Mutex
	onCloseCb func()
	closeOnce sync.Once
}

func newPCTransport(pc *webrtc.PeerConnection, log mlog.LoggerIFace, metrics Metrics) *pcTransport {
	t := &pcTransport{
		pc:      pc,
		log:     log,
		metrics: metrics,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("rtc connection state change", mlog.String("state", state.String()))
		t.metrics.IncRTCConnState(state.String())
		if state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateFailed {
			t.closeOnce.Do(func() {
				t.mut.Lock()
				cb := t.onCloseCb
				t.mut.Unlock()
				if cb != nil {
					cb()
				}
			})
		}
	})

	return t
}

func wrapPCError(err error) error {
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	return err
}

func (t *pcTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	return offer, wrapPCError(err)
}

func (t *pcTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	return answer, wrapPCError(err)
}

func (t *pcTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return wrapPCError(t.pc.SetLocalDescription(desc))
}

func (t *pcTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return wrapPCError(t.pc.SetRemoteDescription(desc))
}

func (t *pcTransport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

func (t *pcTransport) RemoteDescription() *webrtc.SessionDescription {
	return t.pc.RemoteDescription()
}

func (t *pcTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return wrapPCError(t.pc.AddICECandidate(candidate))
}

func (t *pcTransport) AddTrack(track LocalTrack) (RTPSender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, wrapPCError(err)
	}
	return sender, nil
}

func (t *pcTransport) RemoveTrack(sender RTPSender) error {
	s, ok := sender.(*webrtc.RTPSender)
	if !ok {
		return fmt.Errorf("unexpected sender type %T", sender)
	}
	return wrapPCError(t.pc.RemoveTrack(s))
}

func (t *pcTransport) WriteRTCP(pkts []rtcp.Packet) error {
	return t.pc.WriteRTCP(pkts)
}

func (t *pcTransport) OnICECandidate(f func(candidate webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// A nil candidate signals the end of gathering.
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (t *pcTransport) OnNegotiationNeeded(f func()) {
	t.pc.OnNegotiationNeeded(f)
}

func (t *pcTransport) OnTrack(f func(track RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.log.Debug("new remote track",
			mlog.String("trackID", track.ID()),
			mlog.String("streamID", track.StreamID()),
			mlog.String("rid", track.RID()),
			mlog.Uint("ssrc", uint32(track.SSRC())),
			mlog.String("mimeType", track.Codec().MimeType),
		)

		// RTCP from the remote sender needs to be read for interceptors to
		// process it.
		go func() {
			for {
				if _, _, err := receiver.ReadRTCP(); err != nil {
					return
				}
			}
		}()

		f(track)
	})
}

func (t *pcTransport) OnClose(f func()) {
	t.mut.Lock()
	t.onCloseCb = f
	t.mut.Unlock()
}

func (t *pcTransport) Close() error {
	return t.pc.Close()
}
