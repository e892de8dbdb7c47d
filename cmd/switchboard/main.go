// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattermost/switchboard/service"
)

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srvc, err := service.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if err := srvc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	// A second signal while draining sessions skips the graceful path.
	go func() {
		<-sigCh
		log.Fatalf("switchboard: forced shutdown")
	}()

	if err := srvc.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	return nil
}

func main() {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "config/config.toml", "Path to the switchboard configuration file. Defaults apply if it doesn't exist.")
	flag.BoolVar(&showVersion, "version", false, "Print build information and exit.")
	flag.Parse()

	if showVersion {
		if err := json.NewEncoder(os.Stdout).Encode(service.BuildInfo()); err != nil {
			log.Fatalf("switchboard: failed to print version: %s", err.Error())
		}
		return
	}

	if err := run(configPath); err != nil {
		log.Fatalf("switchboard: %s", err.Error())
	}
}
