// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/mattermost/switchboard/service"

	"github.com/kelseyhightower/envconfig"
)

const usageFormat = "### Config Environment Overrides\n\n```\nKEY	TYPE\n{{range .}}{{usage_key .}}	{{usage_type .}}\n{{end}}```\n"

// Prints the list of environment variables overriding the config file,
// either to stdout or to the file passed as the only argument.
func main() {
	var out io.Writer = os.Stdout
	if len(os.Args) > 1 {
		outFile, err := os.OpenFile(os.Args[1], os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			log.Fatalf("failed to open file: %s", err.Error())
		}
		defer outFile.Close()
		out = outFile
	}

	tabs := tabwriter.NewWriter(out, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef("switchboard", &service.Config{}, tabs, usageFormat); err != nil {
		log.Fatalf("failed to generate usage: %s", err.Error())
	}
	if err := tabs.Flush(); err != nil {
		log.Fatalf("failed to flush output: %s", err.Error())
	}
}
