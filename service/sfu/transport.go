// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is an incoming media track surfaced by a publisher transport.
// It's satisfied by *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	StreamID() string
	RID() string
	SSRC() webrtc.SSRC
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalTrack is an outgoing media track attached to a subscriber transport.
type LocalTrack interface {
	webrtc.TrackLocal
	WriteRTP(pkt *rtp.Packet) error
}

// RTPSender gives access to the RTCP feedback coming back from the
// receiving end of a LocalTrack. It's satisfied by *webrtc.RTPSender.
type RTPSender interface {
	ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error)
}

// RTCPWriter sends RTCP packets toward a remote endpoint.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// Transport is the subset of a WebRTC peer connection the forwarding core
// relies on. Callbacks are registered once, before negotiation starts.
type Transport interface {
	RTCPWriter

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track LocalTrack) (RTPSender, error)
	RemoveTrack(sender RTPSender) error

	OnICECandidate(f func(candidate webrtc.ICECandidateInit))
	OnNegotiationNeeded(f func())
	OnTrack(f func(track RemoteTrack))
	OnClose(f func())

	Close() error
}

// TransportFactory creates the transports backing a new peer.
type TransportFactory interface {
	NewTransport() (Transport, error)
}

// TrackFactory allocates the outgoing track for a subscriber.
type TrackFactory func(codec webrtc.RTPCodecCapability, id, streamID string) (LocalTrack, error)

func newStaticTrack(codec webrtc.RTPCodecCapability, id, streamID string) (LocalTrack, error) {
	return webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
}
