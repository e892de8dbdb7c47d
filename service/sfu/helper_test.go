// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/mattermost/switchboard/service/perf"
	"github.com/mattermost/switchboard/service/signal"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

var vp8Codec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	},
	PayloadType: 96,
}

func setupLogAndMetrics(t *testing.T) (mlog.LoggerIFace, *perf.Metrics) {
	t.Helper()

	log, err := mlog.NewLogger()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, log.Shutdown())
	})

	return log, perf.NewMetrics("switchboard", nil)
}

type fakeRemoteTrack struct {
	id   string
	rid  string
	ssrc webrtc.SSRC
	kind webrtc.RTPCodecType

	pktCh chan *rtp.Packet
}

func newFakeRemoteTrack(id, rid string, ssrc webrtc.SSRC) *fakeRemoteTrack {
	return &fakeRemoteTrack{
		id:    id,
		rid:   rid,
		ssrc:  ssrc,
		kind:  webrtc.RTPCodecTypeVideo,
		pktCh: make(chan *rtp.Packet, 64),
	}
}

func (t *fakeRemoteTrack) ID() string                       { return t.id }
func (t *fakeRemoteTrack) StreamID() string                 { return "stream-" + t.id }
func (t *fakeRemoteTrack) RID() string                      { return t.rid }
func (t *fakeRemoteTrack) SSRC() webrtc.SSRC                { return t.ssrc }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *fakeRemoteTrack) Codec() webrtc.RTPCodecParameters { return vp8Codec }

func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-t.pktCh
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

func (t *fakeRemoteTrack) push(ts uint32, seq uint16, payload string) {
	t.pktCh <- &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           uint32(t.ssrc),
		},
		Payload: []byte(payload),
	}
}

func (t *fakeRemoteTrack) end() {
	close(t.pktCh)
}

// recordingTrack is a static local track that also keeps every packet
// written to it.
type recordingTrack struct {
	*webrtc.TrackLocalStaticRTP

	mut  sync.Mutex
	pkts []*rtp.Packet
}

func (t *recordingTrack) WriteRTP(pkt *rtp.Packet) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.pkts = append(t.pkts, pkt)
	return nil
}

func (t *recordingTrack) packets() []*rtp.Packet {
	t.mut.Lock()
	defer t.mut.Unlock()
	pkts := make([]*rtp.Packet, len(t.pkts))
	copy(pkts, t.pkts)
	return pkts
}

func (t *recordingTrack) payloads() []string {
	var payloads []string
	for _, pkt := range t.packets() {
		payloads = append(payloads, string(pkt.Payload))
	}
	return payloads
}

type trackRecorder struct {
	mut    sync.Mutex
	tracks []*recordingTrack
}

func (r *trackRecorder) newTrack(codec webrtc.RTPCodecCapability, id, streamID string) (LocalTrack, error) {
	static, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	track := &recordingTrack{TrackLocalStaticRTP: static}
	r.mut.Lock()
	r.tracks = append(r.tracks, track)
	r.mut.Unlock()
	return track, nil
}

type fakeSender struct {
	track     LocalTrack
	rtcpCh    chan []rtcp.Packet
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (s *fakeSender) ReadRTCP() ([]rtcp.Packet, interceptor.Attributes, error) {
	select {
	case pkts := <-s.rtcpCh:
		return pkts, nil, nil
	case <-s.closeCh:
		return nil, nil, io.EOF
	}
}

func (s *fakeSender) close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
}

// fakeTransport records what the forwarding core does with a peer
// connection without doing any actual networking.
type fakeTransport struct {
	mut        sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*fakeSender
	offers     int
	closed     bool
	remoteErr  error

	rtcpCh chan []rtcp.Packet

	onICECandidate      func(webrtc.ICECandidateInit)
	onNegotiationNeeded func()
	onTrack             func(RemoteTrack)
	onClose             func()
	// afterAddTrack runs once AddTrack succeeded, with no lock held.
	afterAddTrack func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rtcpCh: make(chan []rtcp.Packet, 64),
	}
}

func (t *fakeTransport) WriteRTCP(pkts []rtcp.Packet) error {
	t.mut.Lock()
	closed := t.closed
	t.mut.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	select {
	case t.rtcpCh <- pkts:
	default:
	}
	return nil
}

func (t *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.closed {
		return webrtc.SessionDescription{}, ErrTransportClosed
	}
	t.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.offers)}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.remote == nil {
		return webrtc.SessionDescription{}, errors.New("remote description not set")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.local = &desc
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.remoteErr != nil {
		return t.remoteErr
	}
	t.remote = &desc
	return nil
}

func (t *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.local
}

func (t *fakeTransport) RemoteDescription() *webrtc.SessionDescription {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.remote
}

func (t *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.remote == nil {
		return errors.New("remote description not set")
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) AddTrack(track LocalTrack) (RTPSender, error) {
	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return nil, ErrTransportClosed
	}
	sender := &fakeSender{
		track:   track,
		rtcpCh:  make(chan []rtcp.Packet, 8),
		closeCh: make(chan struct{}),
	}
	t.senders = append(t.senders, sender)
	cb := t.onNegotiationNeeded
	after := t.afterAddTrack
	t.mut.Unlock()

	if cb != nil {
		cb()
	}
	if after != nil {
		after()
	}

	return sender, nil
}

func (t *fakeTransport) RemoveTrack(sender RTPSender) error {
	t.mut.Lock()
	defer t.mut.Unlock()
	for i, s := range t.senders {
		if s == sender {
			t.senders = append(t.senders[:i], t.senders[i+1:]...)
			s.close()
			return nil
		}
	}
	return errors.New("sender not found")
}

func (t *fakeTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.onICECandidate = f
}

func (t *fakeTransport) OnNegotiationNeeded(f func()) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.onNegotiationNeeded = f
}

func (t *fakeTransport) OnTrack(f func(RemoteTrack)) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.onTrack = f
}

func (t *fakeTransport) OnClose(f func()) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.onClose = f
}

func (t *fakeTransport) Close() error {
	t.mut.Lock()
	if t.closed {
		t.mut.Unlock()
		return nil
	}
	t.closed = true
	senders := t.senders
	t.senders = nil
	cb := t.onClose
	t.mut.Unlock()

	for _, s := range senders {
		s.close()
	}

	if cb != nil {
		cb()
	}

	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.closed
}

func (t *fakeTransport) trackCount() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return len(t.senders)
}

func (t *fakeTransport) getCandidates() []webrtc.ICECandidateInit {
	t.mut.Lock()
	defer t.mut.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.candidates...)
}

func (t *fakeTransport) publish(track RemoteTrack) {
	t.mut.Lock()
	cb := t.onTrack
	t.mut.Unlock()
	cb(track)
}

func (t *fakeTransport) gatherCandidate(candidate webrtc.ICECandidateInit) {
	t.mut.Lock()
	cb := t.onICECandidate
	t.mut.Unlock()
	cb(candidate)
}

type testPeer struct {
	*Peer
	pub    *fakeTransport
	sub    *fakeTransport
	events chan signal.Event
}

func newTestPeer(t *testing.T, id string, sess *Session, log mlog.LoggerIFace, metrics Metrics) *testPeer {
	t.Helper()

	pub := newFakeTransport()
	sub := newFakeTransport()
	events := make(chan signal.Event, 256)

	peer, err := NewPeer(PeerConfig{
		ID:            id,
		Publisher:     pub,
		Subscriber:    sub,
		Events:        events,
		SessionEvents: sess.EventCh(),
		SessionDone:   sess.Done(),
	}, log, metrics)
	require.NoError(t, err)
	require.NotNil(t, peer)

	return &testPeer{
		Peer:   peer,
		pub:    pub,
		sub:    sub,
		events: events,
	}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}
