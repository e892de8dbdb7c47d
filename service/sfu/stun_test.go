// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/require"
)

// serveSTUN answers a single binding request with the given mapped address.
func serveSTUN(t *testing.T, conn net.PacketConn, mapped net.IP) {
	t.Helper()

	buf := make([]byte, 1280)
	n, addr, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	req := &stun.Message{Raw: buf[:n]}
	require.NoError(t, req.Decode())
	require.Equal(t, stun.BindingRequest, req.Type)

	res, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: mapped, Port: 4242},
	)
	require.NoError(t, err)

	_, err = conn.WriteTo(res.Raw, addr)
	require.NoError(t, err)
}

func TestGetXORMappedAddr(t *testing.T) {
	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		serveSTUN(t, server, net.ParseIP("203.0.113.10"))
	}()

	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	addr, err := getXORMappedAddr(client, server.LocalAddr(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.10", addr.IP.String())
	require.Equal(t, 4242, addr.Port)

	<-doneCh
}

func TestGetPublicIP(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		addr, err := getPublicIP("turn:localhost:3478")
		require.Error(t, err)
		require.Empty(t, addr)
	})

	t.Run("local server", func(t *testing.T) {
		server, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)
		defer server.Close()

		doneCh := make(chan struct{})
		go func() {
			defer close(doneCh)
			serveSTUN(t, server, net.ParseIP("198.51.100.7"))
		}()

		addr, err := getPublicIP("stun:" + server.LocalAddr().String())
		require.NoError(t, err)
		require.Equal(t, "198.51.100.7", addr)

		<-doneCh
	})

	t.Run("timeout", func(t *testing.T) {
		client, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)
		defer client.Close()

		silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
		require.NoError(t, err)
		defer silent.Close()

		_, err = getXORMappedAddr(client, silent.LocalAddr(), 100*time.Millisecond)
		require.Error(t, err)
	})
}
