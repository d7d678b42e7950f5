package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yungbote/labtrace-backend/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "labtrace:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "labtrace",
		Usage:   "Lab report OCR, extraction and hybrid retrieval pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{app.ConfigPathEnv},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run every component and the ops server in one process",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "migrate",
						Usage: "Run database migrations before starting",
						Value: true,
					},
				},
			},
			{
				Name:   "admission",
				Usage:  "Move pending reports to the report queue in batches",
				Action: admissionCommand,
				Flags:  []cli.Flag{onceFlag()},
			},
			{
				Name:   "report-worker",
				Usage:  "Consume report tasks: OCR, extraction, persistence",
				Action: reportWorkerCommand,
			},
			{
				Name:   "vector-worker",
				Usage:  "Consume vectorization jobs and index facet rows",
				Action: vectorWorkerCommand,
			},
			{
				Name:   "purge",
				Usage:  "Hard-delete soft-deleted reports and their vectors",
				Action: purgeCommand,
				Flags:  []cli.Flag{onceFlag()},
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: migrateCommand,
			},
			{
				Name:   "submit",
				Usage:  "Register a report for processing",
				Action: submitCommand,
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{
						Name:     "url",
						Usage:    "Primary report image or PDF (gs://, s3://, https://, file://)",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "media",
						Usage: "Additional page images, in order",
					},
				},
			},
			{
				Name:   "delete",
				Usage:  "Soft-delete a report",
				Action: deleteCommand,
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Report id",
						Required: true,
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Hybrid search over an owner's facet rows",
				Action: searchCommand,
				Flags:  queryFlags(),
			},
			{
				Name:   "ask",
				Usage:  "Answer a question from an owner's reports",
				Action: askCommand,
				Flags:  queryFlags(),
			},
		},
	}
}

func onceFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "once",
		Usage: "Run a single pass and exit",
	}
}

func ownerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "owner",
		Aliases:  []string{"u"},
		Usage:    "Owner (user) id",
		Required: true,
	}
}

func queryFlags() []cli.Flag {
	return []cli.Flag{
		ownerFlag(),
		&cli.StringFlag{
			Name:     "query",
			Aliases:  []string{"q"},
			Usage:    "Query text",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "top-k",
			Usage: "Number of results",
			Value: 5,
		},
	}
}

// withApp loads config, wires an App with the requested clients and runs fn
// until it returns or the process is signalled.
func withApp(c *cli.Context, needs app.Needs, migrate bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, needs, migrate)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
