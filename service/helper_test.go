// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/mattermost/switchboard/logger"
	"github.com/mattermost/switchboard/service/api"
	"github.com/mattermost/switchboard/service/jsonrpc"
	"github.com/mattermost/switchboard/service/sfu"
	"github.com/mattermost/switchboard/service/ws"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	srvc   *Service
	cfg    Config
	tb     testing.TB
	apiURL string
	wsURL  string
}

func SetupTestHelper(tb testing.TB) *TestHelper {
	tb.Helper()

	th := &TestHelper{
		tb: tb,
	}

	th.cfg.SetDefaults()
	th.cfg.API = api.Config{
		ListenAddress: "127.0.0.1:0",
	}
	th.cfg.WS.PingInterval = time.Second
	th.cfg.SFU = sfu.ServerConfig{
		ICEAddressUDP:      "127.0.0.1",
		ICEPortUDP:         30446,
		ICEHostOverride:    "127.0.0.1",
		UDPSocketsCount:    1,
		NACKBufferSize:     256,
		BroadcastQueueSize: 512,
	}
	th.cfg.Logger = logger.Config{
		EnableConsole: true,
		ConsoleLevel:  "ERROR",
	}

	var err error
	th.srvc, err = New(th.cfg)
	require.NoError(tb, err)
	require.NotNil(tb, th.srvc)

	err = th.srvc.Start()
	require.NoError(tb, err)

	_, port, err := net.SplitHostPort(th.srvc.apiServer.Addr())
	require.NoError(tb, err)
	th.apiURL = "http://localhost:" + port
	th.wsURL = "ws://localhost:" + port + "/ws"

	return th
}

func (th *TestHelper) Teardown() {
	err := th.srvc.Stop()
	require.NoError(th.tb, err)
}

// testClient is a signaling client speaking JSON over text frames.
type testClient struct {
	tb            testing.TB
	log           *mlog.Logger
	ws            *ws.Client
	rpc           *jsonrpc.Conn
	nextID        uint64
	notifications []*jsonrpc.Notification
}

func (th *TestHelper) newClient() *testClient {
	th.tb.Helper()

	log, err := mlog.NewLogger()
	require.NoError(th.tb, err)

	wsClient, err := ws.NewClient(ws.ClientConfig{URL: th.wsURL}, log)
	require.NoError(th.tb, err)

	rpc, err := jsonrpc.NewConn(wsClient, log)
	require.NoError(th.tb, err)

	return &testClient{
		tb:  th.tb,
		log: log,
		ws:  wsClient,
		rpc: rpc,
	}
}

func (c *testClient) close() {
	require.NoError(c.tb, c.ws.Close())
	require.NoError(c.tb, c.log.Shutdown())
}

func (c *testClient) receive() jsonrpc.Message {
	c.tb.Helper()
	select {
	case msg, ok := <-c.rpc.ReceiveCh():
		require.True(c.tb, ok, "connection closed")
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(c.tb, "timed out waiting for message")
	}
	return nil
}

func (c *testClient) notify(method string, params any) {
	c.tb.Helper()
	n, err := jsonrpc.NewNotification(method, params)
	require.NoError(c.tb, err)
	require.NoError(c.tb, c.rpc.Send(n))
}

// request sends a request and waits for its response. Notifications
// received in the meantime are kept for waitNotification.
func (c *testClient) request(method string, params any) *jsonrpc.Response {
	c.tb.Helper()

	data, err := json.Marshal(params)
	require.NoError(c.tb, err)

	c.nextID++
	id := jsonrpc2.ID{Num: c.nextID}
	require.NoError(c.tb, c.rpc.Send(&jsonrpc.Request{ID: id, Method: method, Params: data}))

	for {
		switch m := c.receive().(type) {
		case *jsonrpc.Response:
			if m.ID == id {
				return m
			}
		case *jsonrpc.Notification:
			c.notifications = append(c.notifications, m)
		}
	}
}

func (c *testClient) waitNotification(method string) *jsonrpc.Notification {
	c.tb.Helper()

	for i, n := range c.notifications {
		if n.Method == method {
			c.notifications = append(c.notifications[:i], c.notifications[i+1:]...)
			return n
		}
	}

	for {
		if n, ok := c.receive().(*jsonrpc.Notification); ok {
			if n.Method == method {
				return n
			}
			c.notifications = append(c.notifications, n)
		}
	}
}

// newOffer returns an offer from a client side peer connection sending a
// single audio track.
func newOffer(tb testing.TB) (*webrtc.PeerConnection, webrtc.SessionDescription) {
	tb.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(tb, err)
	tb.Cleanup(func() {
		require.NoError(tb, pc.Close())
	})

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "stream")
	require.NoError(tb, err)

	_, err = pc.AddTrack(track)
	require.NoError(tb, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(tb, err)
	require.NoError(tb, pc.SetLocalDescription(offer))

	return pc, offer
}

func (c *testClient) join(sid, uid string) *jsonrpc.Response {
	c.tb.Helper()
	_, offer := newOffer(c.tb)
	return c.request("join", map[string]any{
		"sid":   sid,
		"uid":   uid,
		"offer": offer,
	})
}
