// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"fmt"
	"os"

	"github.com/mattermost/switchboard/service"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// loadConfig reads the config file and returns a new service.Config.
// Values in the file are overridden by any matching SWITCHBOARD_
// environment variable. A missing file yields the defaults.
func loadConfig(path string) (service.Config, error) {
	var cfg service.Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.SetDefaults()
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := envconfig.Process("switchboard", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process env overrides: %w", err)
	}
	return cfg, nil
}
