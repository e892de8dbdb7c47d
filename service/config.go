// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"fmt"

	"github.com/mattermost/switchboard/logger"
	"github.com/mattermost/switchboard/service/api"
	"github.com/mattermost/switchboard/service/sfu"
	"github.com/mattermost/switchboard/service/ws"
)

type Config struct {
	API    api.Config       `toml:"api"`
	WS     ws.ServerConfig  `toml:"ws"`
	SFU    sfu.ServerConfig `toml:"sfu"`
	Logger logger.Config    `toml:"logger"`
}

func (c Config) IsValid() error {
	if err := c.API.IsValid(); err != nil {
		return fmt.Errorf("failed to validate api config: %w", err)
	}

	if err := c.WS.IsValid(); err != nil {
		return fmt.Errorf("failed to validate ws config: %w", err)
	}

	if err := c.SFU.IsValid(); err != nil {
		return fmt.Errorf("failed to validate sfu config: %w", err)
	}

	if err := c.Logger.IsValid(); err != nil {
		return fmt.Errorf("failed to validate logger config: %w", err)
	}

	return nil
}

func (c *Config) SetDefaults() {
	c.API.SetDefaults()
	c.WS.SetDefaults()
	c.SFU.SetDefaults()
	c.Logger.SetDefaults()
}
