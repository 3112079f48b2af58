package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML config file",
		Value:   defaultConfigPath,
		Sources: cli.EnvVars("DOCMIND_CONFIG"),
	}
	inlineFlag := &cli.BoolFlag{
		Name:  "inline",
		Usage: "run the workflow in this process instead of enqueueing it",
	}

	app := &cli.Command{
		Name:  "docmind",
		Usage: "event-driven question answering over uploaded documents",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "with-worker",
						Usage: "also run the task worker in this process",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "worker",
				Usage:  "process ingest and query tasks from the queue",
				Action: workerAction,
			},
			{
				Name:      "ingest",
				Usage:     "ingest a document",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					inlineFlag,
					&cli.StringFlag{
						Name:  "source-id",
						Usage: "source id to store the chunks under (defaults to the path)",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "wait for the queued run to finish",
					},
				},
				Action: ingestAction,
			},
			{
				Name:      "query",
				Usage:     "ask a question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					inlineFlag,
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "restrict retrieval to a source id; repeat to compare documents",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "number of chunks to retrieve (defaults to rag.top_k)",
					},
				},
				Action: queryAction,
			},
			{
				Name:  "watch",
				Usage: "ingest documents dropped into the watched directories",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "ingest files already present at startup",
					},
					&cli.BoolFlag{
						Name:  "prune",
						Usage: "delete a source from the collection when its file is removed",
					},
				},
				Action: watchAction,
			},
			{
				Name:  "collection",
				Usage: "inspect and maintain the vector collection",
				Commands: []*cli.Command{
					{
						Name:  "stats",
						Usage: "show the collection settings and point count",
						Flags: []cli.Flag{
							&cli.StringSliceFlag{
								Name:  "source",
								Usage: "count only points of these sources",
							},
						},
						Action: collectionStatsAction,
					},
					{
						Name:  "delete-source",
						Usage: "remove every point of a source",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "source",
								Usage:    "source id",
								Required: true,
							},
						},
						Action: collectionDeleteSourceAction,
					},
					{
						Name:  "export",
						Usage: "export the chromem collection to a file",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Usage: "output file", Required: true},
							&cli.StringFlag{Name: "key", Usage: "AES-GCM key (32 bytes), empty for none"},
						},
						Action: collectionExportAction,
					},
					{
						Name:  "import",
						Usage: "import a chromem collection export",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Usage: "input file", Required: true},
							&cli.StringFlag{Name: "key", Usage: "AES-GCM key used at export"},
						},
						Action: collectionImportAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("docmind failed")
	}
}
