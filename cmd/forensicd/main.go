// Command forensicd runs the forensic video-search backend: a worker
// process executing search jobs, or a bridge process relaying results
// to dashboard WebSocket clients.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "forensicd",
		Usage:   "forensic video-search backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "forensic.yaml",
				Usage:   "Path to the YAML configuration file",
			},
		},
		Commands: []*cli.Command{
			workerCommand(),
			bridgeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
