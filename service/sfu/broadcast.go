// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/shared/mlog"

	"golang.org/x/time/rate"
)

const (
	defaultBroadcastQueueSize = 512
	dropLogInterval           = 5 * time.Second
)

// broadcaster fans packets out to a dynamic set of bounded receive
// channels. A full receiver loses the packet instead of stalling the
// sender.
type broadcaster struct {
	log       mlog.LoggerIFace
	metrics   Metrics
	trackType string
	queueSize int

	receivers map[chan Packet]struct{}
	closed    bool
	mut       sync.RWMutex

	dropLimiter *rate.Limiter
	dropped     uint64
	droppedMut  sync.Mutex
}

func newBroadcaster(queueSize int, trackType string, log mlog.LoggerIFace, metrics Metrics) *broadcaster {
	if queueSize <= 0 {
		queueSize = defaultBroadcastQueueSize
	}
	return &broadcaster{
		log:         log,
		metrics:     metrics,
		trackType:   trackType,
		queueSize:   queueSize,
		receivers:   make(map[chan Packet]struct{}),
		dropLimiter: rate.NewLimiter(rate.Every(dropLogInterval), 1),
	}
}

func (b *broadcaster) subscribe() (<-chan Packet, func(), bool) {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.closed {
		return nil, nil, false
	}

	ch := make(chan Packet, b.queueSize)
	b.receivers[ch] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mut.Lock()
			defer b.mut.Unlock()
			if _, ok := b.receivers[ch]; ok {
				delete(b.receivers, ch)
				close(ch)
			}
		})
	}

	return ch, unsubscribe, true
}

func (b *broadcaster) receiverCount() int {
	b.mut.RLock()
	defer b.mut.RUnlock()
	return len(b.receivers)
}

func (b *broadcaster) send(pkt Packet) {
	b.mut.RLock()
	defer b.mut.RUnlock()

	for ch := range b.receivers {
		select {
		case ch <- pkt:
		default:
			b.drop()
		}
	}
}

func (b *broadcaster) drop() {
	b.metrics.IncRTPDroppedPackets(b.trackType)

	b.droppedMut.Lock()
	b.dropped++
	dropped := b.dropped
	b.droppedMut.Unlock()

	if b.dropLimiter.Allow() {
		b.log.Warn("broadcast channel is full, dropping packet",
			mlog.String("trackType", b.trackType),
			mlog.Uint("droppedTotal", dropped),
		)
	}
}

// close terminates every receiver. Subsequent subscribes fail.
func (b *broadcaster) close() {
	b.mut.Lock()
	defer b.mut.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for ch := range b.receivers {
		delete(b.receivers, ch)
		close(ch)
	}
}
