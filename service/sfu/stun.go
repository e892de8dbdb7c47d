// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const stunTimeout = 5 * time.Second

// getPublicIP asks the given STUN server for the address this host is
// seen from.
func getPublicIP(stunURL string) (string, error) {
	if !strings.HasPrefix(stunURL, "stun:") {
		return "", fmt.Errorf("invalid STUN URL %q", stunURL)
	}

	serverAddr, err := net.ResolveUDPAddr("udp4", strings.TrimPrefix(stunURL, "stun:"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve stun host: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return "", fmt.Errorf("failed to listen on udp: %w", err)
	}
	defer conn.Close()

	addr, err := getXORMappedAddr(conn, serverAddr, stunTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to get public address: %w", err)
	}

	return addr.IP.String(), nil
}

func getXORMappedAddr(conn net.PacketConn, serverAddr net.Addr, timeout time.Duration) (*stun.XORMappedAddress, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	req, err := stun.Build(stun.BindingRequest, stun.TransactionID)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(req.Raw, serverAddr); err != nil {
		return nil, err
	}

	const maxMessageSize = 1280
	buf := make([]byte, maxMessageSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}

	res := &stun.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		return nil, err
	}

	var addr stun.XORMappedAddress
	if err := addr.GetFrom(res); err != nil {
		return nil, err
	}

	return &addr, nil
}
