// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package sfu

import (
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/pion/webrtc/v4"
)

type ServerConfig struct {
	// ICEAddressUDP specifies the UDP address the ICE agents should listen on.
	ICEAddressUDP string `toml:"ice_address_udp"`
	// ICEPortUDP specifies the UDP port the ICE agents should listen to.
	ICEPortUDP int `toml:"ice_port_udp"`
	// ICEHostOverride optionally specifies an IP address to be announced
	// as the host ICE candidate. When empty and a STUN server is configured
	// the public address is discovered at startup.
	ICEHostOverride string `toml:"ice_host_override"`
	// A list of ICE server (STUN/TURN) configurations to use.
	ICEServers ICEServers `toml:"ice_servers"`
	// UDPSocketsCount controls the number of listening UDP sockets used
	// by the ICE UDP mux. Defaults to the number of available CPUs.
	UDPSocketsCount int `toml:"udp_sockets_count"`
	// NACKBufferSize is the number of sent packets kept around to answer
	// retransmission requests. Must be a power of two.
	NACKBufferSize int `toml:"nack_buffer_size"`
	// BroadcastQueueSize is the number of packets each subscriber can lag
	// behind its router before packets get dropped.
	BroadcastQueueSize int `toml:"broadcast_queue_size"`
}

func (c ServerConfig) IsValid() error {
	if c.ICEAddressUDP != "" && net.ParseIP(c.ICEAddressUDP) == nil {
		return fmt.Errorf("invalid ICEAddressUDP value: not a valid address")
	}

	if c.ICEPortUDP < 80 || c.ICEPortUDP > 49151 {
		return fmt.Errorf("invalid ICEPortUDP value: %d is not in allowed range [80, 49151]", c.ICEPortUDP)
	}

	if c.ICEHostOverride != "" && net.ParseIP(c.ICEHostOverride) == nil {
		return fmt.Errorf("invalid ICEHostOverride value: not a valid address")
	}

	if err := c.ICEServers.IsValid(); err != nil {
		return fmt.Errorf("invalid ICEServers value: %w", err)
	}

	if c.UDPSocketsCount <= 0 {
		return fmt.Errorf("invalid UDPSocketsCount value: should be greater than zero")
	}

	if c.NACKBufferSize <= 0 || c.NACKBufferSize > 1<<15 || c.NACKBufferSize&(c.NACKBufferSize-1) != 0 {
		return fmt.Errorf("invalid NACKBufferSize value: should be a power of two in range [1, 32768]")
	}

	if c.BroadcastQueueSize <= 0 {
		return fmt.Errorf("invalid BroadcastQueueSize value: should be greater than zero")
	}

	return nil
}

func (c *ServerConfig) SetDefaults() {
	c.ICEPortUDP = 8443
	c.UDPSocketsCount = runtime.NumCPU()
	c.NACKBufferSize = 256
	c.BroadcastQueueSize = defaultBroadcastQueueSize
}

type ICEServerConfig struct {
	URLs       []string `toml:"urls" json:"urls"`
	Username   string   `toml:"username,omitempty" json:"username,omitempty"`
	Credential string   `toml:"credential,omitempty" json:"credential,omitempty"`
}

type ICEServers []ICEServerConfig

func (c ICEServerConfig) IsValid() error {
	if len(c.URLs) == 0 {
		return fmt.Errorf("invalid empty URLs")
	}
	for _, u := range c.URLs {
		if u == "" {
			return fmt.Errorf("invalid empty URL")
		}
	}
	if !c.IsSTUN() && !c.IsTURN() {
		return fmt.Errorf("URL is not a valid STUN/TURN server")
	}
	return nil
}

func (c ICEServerConfig) IsTURN() bool {
	for _, u := range c.URLs {
		if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			return false
		}
	}
	return len(c.URLs) > 0
}

func (c ICEServerConfig) IsSTUN() bool {
	for _, u := range c.URLs {
		if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
			return false
		}
	}
	return len(c.URLs) > 0
}

func (s ICEServers) IsValid() error {
	for _, cfg := range s {
		if err := cfg.IsValid(); err != nil {
			return err
		}
	}
	return nil
}

func (s ICEServers) getSTUN() string {
	for _, cfg := range s {
		if cfg.IsSTUN() {
			return cfg.URLs[0]
		}
	}
	return ""
}

func (s ICEServers) toWebRTC() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(s))
	for _, cfg := range s {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.URLs,
			Username:   cfg.Username,
			Credential: cfg.Credential,
		})
	}
	return servers
}

// Decode lets envconfig parse either a JSON list of URLs or a JSON list of
// server objects.
func (s *ICEServers) Decode(value string) error {
	var urls []string
	if err := json.Unmarshal([]byte(value), &urls); err == nil {
		*s = ICEServers{{URLs: urls}}
		return nil
	}
	return json.Unmarshal([]byte(value), (*[]ICEServerConfig)(s))
}

func (s *ICEServers) UnmarshalTOML(data interface{}) error {
	d, ok := data.([]interface{})
	if !ok {
		return fmt.Errorf("invalid type %T", data)
	}

	var iceServers ICEServers
	for _, obj := range d {
		var server ICEServerConfig
		switch t := obj.(type) {
		case string:
			server.URLs = append(server.URLs, t)
		case map[string]interface{}:
			urls, _ := t["urls"].([]interface{})
			for _, u := range urls {
				uVal, _ := u.(string)
				server.URLs = append(server.URLs, uVal)
			}
			server.Username, _ = t["username"].(string)
			server.Credential, _ = t["credential"].(string)
		default:
			return fmt.Errorf("unknown type %T", t)
		}
		iceServers = append(iceServers, server)
	}

	*s = iceServers

	return nil
}
