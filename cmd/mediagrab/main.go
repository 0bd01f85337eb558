package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/cwygoda/mediagrab/cmd/mediagrab/commands"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "mediagrab",
		Usage:   "fetch media from video platforms over HTTP",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API with the job scheduler and sweeper",
				Flags: append(commands.ConfigFlags(),
					&cli.IntFlag{
						Name:  "port",
						Usage: "HTTP port (overrides PORT)",
					},
				),
				Action: commands.ServeAction,
			},
			{
				Name:      "fetch",
				Usage:     "download one URL synchronously",
				ArgsUsage: "<url>",
				Flags: append(commands.ConfigFlags(),
					&cli.BoolFlag{
						Name:  "audio",
						Usage: "extract audio only",
					},
					&cli.IntFlag{
						Name:  "height",
						Usage: "maximum video height, e.g. 720",
					},
					&cli.IntFlag{
						Name:  "bitrate",
						Usage: "audio bitrate in kbps",
					},
					&cli.BoolFlag{
						Name:  "playlist",
						Usage: "download every entry and bundle them",
					},
					&cli.StringFlag{
						Name:  "cookies",
						Usage: "Netscape cookie jar to authenticate with",
					},
					&cli.StringFlag{
						Name:  "browser",
						Usage: "read cookies from a local browser profile",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "output directory",
						Value: ".",
					},
				),
				Action: commands.FetchAction,
			},
			{
				Name:  "history",
				Usage: "show recent download outcomes",
				Flags: append(commands.ConfigFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "number of entries to show",
						Value: 20,
					},
				),
				Action: commands.HistoryAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
