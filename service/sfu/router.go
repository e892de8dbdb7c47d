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
	"github.com/pion/webrtc/v4"
)

const feedbackChSize = 32

type FeedbackType int

const (
	FeedbackPictureLoss FeedbackType = iota + 1
)

// Feedback is an RTCP event raised by a subscriber toward the router it
// reads from.
type Feedback struct {
	Type  FeedbackType
	Layer Layer
}

// Router ingests every layer of one published track and fans the packets
// out to its subscribers. Feedback from all subscribers is reduced into a
// single upstream RTCP stream.
type Router struct {
	id        string
	upstream  RTCPWriter
	log       mlog.LoggerIFace
	metrics   Metrics
	queueSize int

	layers       map[Layer]RemoteTrack
	layersOrder  []Layer
	activeLayers int
	trackType    string
	bcast        *broadcaster
	mut          sync.RWMutex

	feedbackCh chan Feedback
	doneCh     chan struct{}
}

func NewRouter(id string, upstream RTCPWriter, queueSize int, log mlog.LoggerIFace, metrics Metrics) *Router {
	r := &Router{
		id:         id,
		upstream:   upstream,
		log:        log,
		metrics:    metrics,
		queueSize:  queueSize,
		layers:     make(map[Layer]RemoteTrack),
		feedbackCh: make(chan Feedback, feedbackChSize),
		doneCh:     make(chan struct{}),
	}

	go r.rtcpLoop()

	return r
}

func (r *Router) ID() string {
	return r.id
}

// Done is closed once every layer's source has ended.
func (r *Router) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Router) isDone() bool {
	select {
	case <-r.doneCh:
		return true
	default:
		return false
	}
}

// AddLayer registers a source track as one of the router's layers and
// starts reading from it. The returned channel is closed when the source
// ends.
func (r *Router) AddLayer(track RemoteTrack) <-chan struct{} {
	closedCh := make(chan struct{})
	layer := LayerFromRID(track.RID())

	r.mut.Lock()
	if r.isDone() {
		r.mut.Unlock()
		r.log.Warn("adding layer to a router that is done", mlog.String("routerID", r.id), mlog.String("layer", layer.String()))
		close(closedCh)
		return closedCh
	}
	if r.bcast == nil {
		r.trackType = track.Kind().String()
		r.bcast = newBroadcaster(r.queueSize, r.trackType, r.log, r.metrics)
		r.metrics.IncRouters(r.trackType)
	}
	if _, ok := r.layers[layer]; !ok {
		r.layersOrder = append(r.layersOrder, layer)
	}
	r.layers[layer] = track
	r.activeLayers++
	bcast := r.bcast
	r.mut.Unlock()

	r.log.Debug("router: layer added", mlog.String("routerID", r.id), mlog.String("layer", layer.String()))

	go r.readLoop(layer, track, bcast, closedCh)

	return closedCh
}

func (r *Router) readLoop(layer Layer, track RemoteTrack, bcast *broadcaster, closedCh chan struct{}) {
	defer func() {
		close(closedCh)
		r.layerEnded(layer)
	}()

	trackType := track.Kind().String()

	var lastTS uint32
	first := true
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warn("router: failed to read RTP packet",
					mlog.Err(err), mlog.String("routerID", r.id), mlog.String("layer", layer.String()))
			}
			return
		}

		r.metrics.IncRTPPackets("in", trackType)
		r.metrics.AddRTPPacketBytes("in", trackType, len(pkt.Payload))

		var delta uint32
		if !first {
			delta = pkt.Timestamp - lastTS
		}
		first = false
		lastTS = pkt.Timestamp
		pkt.Timestamp = delta

		if bcast.receiverCount() == 0 {
			continue
		}

		bcast.send(Packet{Layer: layer, RTP: pkt})
	}
}

func (r *Router) layerEnded(layer Layer) {
	r.mut.Lock()
	defer r.mut.Unlock()

	r.activeLayers--
	r.log.Debug("router: layer ended", mlog.String("routerID", r.id), mlog.String("layer", layer.String()))
	if r.activeLayers > 0 {
		return
	}

	r.bcast.close()
	r.metrics.DecRouters(r.trackType)
	close(r.doneCh)
}

func (r *Router) sourceForLayer(layer Layer) RemoteTrack {
	r.mut.RLock()
	defer r.mut.RUnlock()
	if track, ok := r.layers[layer]; ok {
		return track
	}
	if len(r.layersOrder) > 0 {
		return r.layers[r.layersOrder[0]]
	}
	return nil
}

// AddSubscriber binds a new subscriber to the router's first known layer.
func (r *Router) AddSubscriber(newTrack TrackFactory) (*Subscriber, error) {
	r.mut.RLock()
	if len(r.layersOrder) == 0 {
		r.mut.RUnlock()
		return nil, fmt.Errorf("router %s: %w", r.id, ErrNoTrack)
	}
	src := r.layers[r.layersOrder[0]]
	bcast := r.bcast
	r.mut.RUnlock()

	packetCh, unsubscribe, ok := bcast.subscribe()
	if !ok {
		return nil, fmt.Errorf("router %s is done: %w", r.id, ErrNoTrack)
	}

	s, err := newSubscriber(subscriberConfig{
		source:      src,
		packetCh:    packetCh,
		unsubscribe: unsubscribe,
		feedbackCh:  r.feedbackCh,
		newTrack:    newTrack,
	}, r.log, r.metrics)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	return s, nil
}

// rtcpLoop forwards subscriber feedback upstream. It keeps consuming
// feedback until the router is done, even once the upstream is gone, so
// that subscribers never find the channel full.
func (r *Router) rtcpLoop() {
	var upstreamClosed bool
	for {
		select {
		case fb := <-r.feedbackCh:
			if upstreamClosed || fb.Type != FeedbackPictureLoss {
				continue
			}
			src := r.sourceForLayer(fb.Layer)
			if src == nil {
				continue
			}
			pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(src.SSRC())}
			if err := r.upstream.WriteRTCP([]rtcp.Packet{pli}); err != nil {
				if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, webrtc.ErrConnectionClosed) {
					r.log.Debug("router: upstream closed, discarding feedback", mlog.String("routerID", r.id))
					upstreamClosed = true
					continue
				}
				r.log.Error("router: failed to write RTCP packet", mlog.Err(err), mlog.String("routerID", r.id))
			}
		case <-r.doneCh:
			return
		}
	}
}
