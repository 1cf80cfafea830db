// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/oxidelink/oxidelink/internal/config"
	"github.com/oxidelink/oxidelink/internal/server"
)

func main() {
	cmd := &cli.Command{
		Name:   "oxidelink",
		Usage:  "Link chat accounts to game identities and grant server permissions",
		Flags:  config.Flags(),
		Action: server.Run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
