// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package ws

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxMessageSize = 1024 * 1024 // 1MB
	defaultWriteTimeout   = 10 * time.Second
)

// ServerConfig holds the settings of the signaling WebSocket endpoint.
type ServerConfig struct {
	// ReadBufferSize and WriteBufferSize size the I/O buffers of each
	// connection. They don't limit message size.
	ReadBufferSize  int `toml:"read_buffer_size"`
	WriteBufferSize int `toml:"write_buffer_size"`
	// PingInterval is how often connections are pinged. A connection
	// that stays silent for twice as long is dropped.
	PingInterval time.Duration `toml:"ping_interval"`
	// MaxMessageSize bounds a single signaling frame, in bytes. SDP
	// payloads are the largest. Zero means 1MB.
	MaxMessageSize int64 `toml:"max_message_size"`
	// WriteTimeout bounds every frame write. Zero means 10s.
	WriteTimeout time.Duration `toml:"write_timeout"`
}

func (c ServerConfig) IsValid() error {
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid ReadBufferSize value: should be greater than zero")
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("invalid WriteBufferSize value: should be greater than zero")
	}
	if c.PingInterval < time.Second {
		return fmt.Errorf("invalid PingInterval value: should be at least 1 second")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("invalid MaxMessageSize value: should not be negative")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout value: should not be negative")
	}

	return nil
}

func (c *ServerConfig) SetDefaults() {
	c.ReadBufferSize = 4096
	c.WriteBufferSize = 4096
	c.PingInterval = 10 * time.Second
	c.MaxMessageSize = defaultMaxMessageSize
	c.WriteTimeout = defaultWriteTimeout
}

func (c ServerConfig) connConfig() connConfig {
	cfg := connConfig{
		pingInterval:   c.PingInterval,
		maxMessageSize: c.MaxMessageSize,
		writeTimeout:   c.WriteTimeout,
	}
	return cfg.withDefaults()
}

type ClientConfig struct {
	// URL of the signaling endpoint, either ws:// or wss://.
	URL string
	// HandshakeTimeout bounds the opening handshake. Zero keeps the
	// dialer default.
	HandshakeTimeout time.Duration
}

func (c ClientConfig) IsValid() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}

	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf(`invalid URL value: should start with "ws://" or "wss://"`)
	}

	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("invalid HandshakeTimeout value: should not be negative")
	}

	return nil
}

type connConfig struct {
	pingInterval   time.Duration
	maxMessageSize int64
	writeTimeout   time.Duration
}

func (c connConfig) withDefaults() connConfig {
	if c.maxMessageSize == 0 {
		c.maxMessageSize = defaultMaxMessageSize
	}
	if c.writeTimeout == 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	return c
}
