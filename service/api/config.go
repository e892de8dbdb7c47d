// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package api

import (
	"crypto/tls"
	"fmt"
	"time"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

type TLSConfig struct {
	Enable   bool   `toml:"enable"`
	CertFile string `toml:"cert_file"`
	CertKey  string `toml:"cert_key"`
}

func (c TLSConfig) IsValid() error {
	if !c.Enable {
		return nil
	}

	if c.CertFile == "" {
		return fmt.Errorf("invalid CertFile value: should not be empty")
	}
	if c.CertKey == "" {
		return fmt.Errorf("invalid CertKey value: should not be empty")
	}
	if _, err := tls.LoadX509KeyPair(c.CertFile, c.CertKey); err != nil {
		return fmt.Errorf("failed to load cert files: %w", err)
	}

	return nil
}

// Config holds the HTTP listener settings. Zero timeouts fall back to
// package defaults.
type Config struct {
	ListenAddress     string        `toml:"listen_address"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	TLS               TLSConfig     `toml:"tls"`
}

func (c Config) IsValid() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("invalid ListenAddress value: should not be empty")
	}

	for name, d := range map[string]time.Duration{
		"ReadHeaderTimeout": c.ReadHeaderTimeout,
		"IdleTimeout":       c.IdleTimeout,
		"ShutdownTimeout":   c.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("invalid %s value: should not be negative", name)
		}
	}

	if err := c.TLS.IsValid(); err != nil {
		return fmt.Errorf("invalid TLS config: %w", err)
	}

	return nil
}

func (c *Config) SetDefaults() {
	c.ListenAddress = "127.0.0.1:7000"
	c.ReadHeaderTimeout = defaultReadHeaderTimeout
	c.IdleTimeout = defaultIdleTimeout
	c.ShutdownTimeout = defaultShutdownTimeout
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
