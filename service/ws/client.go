// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"

	"github.com/mattermost/switchboard/service/random"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// Client is the dialing side of a WebSocket connection. Pings sent by the
// server are answered automatically.
type Client struct {
	*Conn
	cfg ClientConfig
}

// NewClient connects to the configured URL and returns a new WebSocket client.
func NewClient(cfg ClientConfig, log mlog.LoggerIFace) (*Client, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("log should not be nil")
	}

	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	wsConn, _, err := dialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	c := &Client{
		Conn: newConn(random.NewID(), wsConn, connConfig{}, log),
		cfg:  cfg,
	}
	c.start()

	return c, nil
}

// Close closes the underlying WebSocket connection and waits for the
// internal goroutines to exit.
func (c *Client) Close() error {
	err := c.Conn.Close()
	c.wait()
	return err
}
