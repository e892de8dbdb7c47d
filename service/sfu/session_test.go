// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/switchboard/service/signal"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// waitEvent returns the first event of type T, skipping any other.
func waitEvent[T signal.Event](t *testing.T, ch <-chan signal.Event) T {
	t.Helper()
	timeoutCh := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeoutCh:
			var zero T
			require.Failf(t, "timed out waiting for event", "%T", zero)
			return zero
		}
	}
}

func TestSessionAddPeer(t *testing.T) {
	log, metrics := setupLogAndMetrics(t)

	t.Run("duplicate", func(t *testing.T) {
		sess := newSession("r1", log, metrics, nil)
		defer sess.tryClose()

		p1 := newTestPeer(t, "peerA", sess, log, metrics)
		p2 := newTestPeer(t, "peerA", sess, log, metrics)
		defer p2.Close()

		require.NoError(t, sess.AddPeer(p1.ID(), p1.Peer))
		err := sess.AddPeer(p2.ID(), p2.Peer)
		require.ErrorIs(t, err, ErrDuplicatePeer)
		require.Equal(t, []string{"peerA"}, sess.Peers())

		require.NoError(t, sess.RemovePeer("peerA"))
		require.Empty(t, sess.Peers())
		require.Error(t, sess.RemovePeer("peerA"))
	})

	t.Run("concurrent duplicates", func(t *testing.T) {
		sess := newSession("r1", log, metrics, nil)
		defer sess.tryClose()

		n := 10
		peers := make([]*testPeer, n)
		for i := range peers {
			peers[i] = newTestPeer(t, "peerA", sess, log, metrics)
			defer peers[i].Close()
		}

		var wg sync.WaitGroup
		errCh := make(chan error, n)
		wg.Add(n)
		for _, p := range peers {
			go func(p *testPeer) {
				defer wg.Done()
				errCh <- sess.AddPeer(p.ID(), p.Peer)
			}(p)
		}
		wg.Wait()
		close(errCh)

		var succeeded int
		for err := range errCh {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, ErrDuplicatePeer)
		}
		require.Equal(t, 1, succeeded)
		require.Len(t, sess.Peers(), 1)
	})

	t.Run("closed session", func(t *testing.T) {
		sess := newSession("r1", log, metrics, nil)
		require.True(t, sess.tryClose())
		require.False(t, sess.tryClose())

		p := newTestPeer(t, "peerA", sess, log, metrics)
		defer p.Close()
		require.ErrorIs(t, sess.AddPeer(p.ID(), p.Peer), ErrSessionClosed)
	})
}

func TestSessionAllPairs(t *testing.T) {
	log, metrics := setupLogAndMetrics(t)
	sess := newSession("r1", log, metrics, nil)

	peerA := newTestPeer(t, "peerA", sess, log, metrics)
	require.NoError(t, sess.AddPeer(peerA.ID(), peerA.Peer))

	track := newFakeRemoteTrack("trackA", "", 1000)
	peerA.pub.publish(track)

	require.Eventually(t, func() bool {
		return len(sess.Routers()) == 1
	}, time.Second, 10*time.Millisecond)

	// the publisher is subscribed to its own track like any other router
	require.Eventually(t, func() bool {
		return peerA.sub.trackCount() == 1
	}, time.Second, 10*time.Millisecond)

	// a late joiner receives the existing track and an offer for it
	peerB := newTestPeer(t, "peerB", sess, log, metrics)
	require.NoError(t, sess.AddPeer(peerB.ID(), peerB.Peer))
	require.Equal(t, 1, peerB.sub.trackCount())
	offer := waitEvent[signal.SubscriberOffer](t, peerB.events)
	require.Equal(t, "offer-1", offer.Desc.SDP)

	// a new track reaches every current peer
	track2 := newFakeRemoteTrack("trackB", "", 2000)
	peerB.pub.publish(track2)
	require.Eventually(t, func() bool {
		return peerA.sub.trackCount() == 2 && peerB.sub.trackCount() == 2
	}, time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"trackA", "trackB"}, sess.Routers())

	// ended tracks go away everywhere
	track.end()
	require.Eventually(t, func() bool {
		return len(sess.Routers()) == 1 && peerA.sub.trackCount() == 1 && peerB.sub.trackCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sess.RemovePeer("peerB"))
	require.True(t, peerB.pub.isClosed())
	require.True(t, peerB.sub.isClosed())

	// the removed peer's track ends with its transport in real life
	track2.end()
	require.Eventually(t, func() bool {
		return len(sess.Routers()) == 0 && peerA.sub.trackCount() == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sess.RemovePeer("peerA"))
	require.True(t, sess.tryClose())
}

func TestSessionPresence(t *testing.T) {
	log, metrics := setupLogAndMetrics(t)
	sess := newSession("r1", log, metrics, nil)
	defer sess.tryClose()

	var peers []*testPeer
	for i := 0; i < 3; i++ {
		p := newTestPeer(t, fmt.Sprintf("peer%d", i), sess, log, metrics)
		require.NoError(t, sess.AddPeer(p.ID(), p.Peer))
		peers = append(peers, p)
	}

	rev, err := sess.SetPresence("peer0", json.RawMessage(`{"name":"alice"}`))
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)

	rev, err = sess.SetPresence("peer1", json.RawMessage(`{"name":"bob"}`))
	require.NoError(t, err)
	require.Equal(t, uint64(2), rev)

	for _, p := range peers {
		ev := waitEvent[signal.Presence](t, p.events)
		require.Equal(t, uint64(1), ev.Revision)
		require.JSONEq(t, `{"peer0":{"name":"alice"}}`, string(ev.Meta))

		ev = waitEvent[signal.Presence](t, p.events)
		require.Equal(t, uint64(2), ev.Revision)
		require.JSONEq(t, `{"peer0":{"name":"alice"},"peer1":{"name":"bob"}}`, string(ev.Meta))
	}

	t.Run("concurrent updates", func(t *testing.T) {
		var wg sync.WaitGroup
		n := 20
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				_, err := sess.SetPresence("peer2", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()

		// every peer sees the same strictly increasing sequence
		var expected []signal.Presence
		for i := 0; i < n; i++ {
			ev := waitEvent[signal.Presence](t, peers[0].events)
			if len(expected) > 0 {
				require.Greater(t, ev.Revision, expected[len(expected)-1].Revision)
			}
			expected = append(expected, ev)
		}
		require.Equal(t, uint64(2+n), expected[n-1].Revision)

		for _, p := range peers[1:] {
			for i := 0; i < n; i++ {
				ev := waitEvent[signal.Presence](t, p.events)
				require.Equal(t, expected[i].Revision, ev.Revision)
				require.JSONEq(t, string(expected[i].Meta), string(ev.Meta))
			}
		}
	})

	t.Run("leaving peer is removed", func(t *testing.T) {
		require.NoError(t, sess.RemovePeer("peer0"))

		ev := waitEvent[signal.Presence](t, peers[1].events)
		require.Equal(t, uint64(23), ev.Revision)
		var meta map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(ev.Meta, &meta))
		require.NotContains(t, meta, "peer0")
		require.Contains(t, meta, "peer1")
	})

	require.NoError(t, sess.RemovePeer("peer1"))
	require.NoError(t, sess.RemovePeer("peer2"))
}

// within fails the test if fn doesn't return before the timeout.
func within(t *testing.T, timeout time.Duration, msg string, fn func()) {
	t.Helper()
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		fn()
	}()
	select {
	case <-doneCh:
	case <-time.After(timeout):
		require.FailNow(t, msg)
	}
}

func TestSessionPresenceStalledPeer(t *testing.T) {
	log, metrics := setupLogAndMetrics(t)
	sess := newSession("r1", log, metrics, nil)
	defer sess.tryClose()

	peerA := newTestPeer(t, "peerA", sess, log, metrics)
	require.NoError(t, sess.AddPeer(peerA.ID(), peerA.Peer))
	// peerB's events are never read.
	peerB := newTestPeer(t, "peerB", sess, log, metrics)
	require.NoError(t, sess.AddPeer(peerB.ID(), peerB.Peer))

	var received []uint64
	drainDoneCh := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		defer close(drainDoneCh)
		for {
			select {
			case ev := <-peerA.events:
				if p, ok := ev.(signal.Presence); ok {
					received = append(received, p.Revision)
				}
			case <-stopCh:
				return
			}
		}
	}()

	n := cap(peerB.events) + 44
	within(t, 2*time.Second, "SetPresence blocked on a stalled peer", func() {
		for i := 0; i < n; i++ {
			_, err := sess.SetPresence("peerA", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
			require.NoError(t, err)
		}
	})

	require.Len(t, peerB.events, cap(peerB.events))
	dropped := testutil.ToFloat64(metrics.SignalDroppedEventCounters.WithLabelValues("presence"))
	require.GreaterOrEqual(t, dropped, float64(n-cap(peerB.events)))

	t.Run("stalled peer can still update", func(t *testing.T) {
		within(t, time.Second, "SetPresence from the stalled peer blocked", func() {
			rev, err := sess.SetPresence("peerB", json.RawMessage(`{"name":"bob"}`))
			require.NoError(t, err)
			require.Equal(t, uint64(n+1), rev)
		})
	})

	t.Run("remove peer does not block", func(t *testing.T) {
		within(t, time.Second, "RemovePeer blocked on a stalled peer", func() {
			require.NoError(t, sess.RemovePeer("peerA"))
		})
		within(t, time.Second, "RemovePeer of the stalled peer blocked", func() {
			require.NoError(t, sess.RemovePeer("peerB"))
		})
	})

	close(stopCh)
	<-drainDoneCh

	// whatever reached the draining peer arrived in order
	for i := 1; i < len(received); i++ {
		require.Greater(t, received[i], received[i-1])
	}
	require.NotEmpty(t, received)

	// the buffered revisions of the stalled peer are in order too
	var last uint64
	for len(peerB.events) > 0 {
		if p, ok := (<-peerB.events).(signal.Presence); ok {
			require.Greater(t, p.Revision, last)
			last = p.Revision
		}
	}
}

func TestSessionPresenceInvalidMeta(t *testing.T) {
	log, metrics := setupLogAndMetrics(t)
	sess := newSession("r1", log, metrics, nil)
	defer sess.tryClose()

	p := newTestPeer(t, "peerA", sess, log, metrics)
	require.NoError(t, sess.AddPeer(p.ID(), p.Peer))

	_, err := sess.SetPresence("peerA", json.RawMessage(`{"name":`))
	require.Error(t, err)

	// a rejected update leaves the room state usable
	rev, err := sess.SetPresence("peerA", json.RawMessage(`{"name":"alice"}`))
	require.NoError(t, err)
	require.Equal(t, uint64(1), rev)

	require.NoError(t, sess.RemovePeer("peerA"))
}
