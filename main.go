package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"triage_server/config"
	"triage_server/core/service/report"
	"triage_server/internal/bootstrap"
	"triage_server/pkg/logger"
)

const version = "0.3.0"

func main() {
	// .env is optional outside local development
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	app := &cli.App{
		Name:    "triage",
		Usage:   "Automated customer-support inbox triage",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from TOML `FILE`",
				EnvVars: []string{"TRIAGE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			workerCommand(),
			seedCommand(),
			statsCommand(),
		},
		Action: func(c *cli.Context) error {
			return run(c, true)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("Error: %s", err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the automation loop and the control API",
		Action: func(c *cli.Context) error {
			return run(c, true)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the automation loop without the control API",
		Action: func(c *cli.Context) error {
			return run(c, false)
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-kb",
		Usage: "Embed and upsert knowledge base articles from a YAML or JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Article `FILE` holding {entries: [...]}",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			deps, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()

			if deps.Loader == nil {
				return fmt.Errorf("seed-kb requires database_url and openai_api_key")
			}
			if err := deps.Knowledge.Connect(c.Context); err != nil {
				return err
			}
			n, err := deps.Loader.LoadFile(c.Context, c.String("file"))
			if err != nil {
				return err
			}
			logger.Info("Seeded %d knowledge base entries", n)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print interaction statistics as JSON",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "period",
				Usage: "Look-back period",
				Value: 24 * time.Hour,
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Ask the language model for a short narrative",
			},
		},
		Action: func(c *cli.Context) error {
			deps, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer cleanup()

			period := c.Duration("period")
			var stats *report.Stats
			if c.Bool("summary") {
				stats, err = deps.Report.StatsWithSummary(c.Context, period)
			} else {
				stats, err = deps.Report.Stats(c.Context, period)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func setup(c *cli.Context) (*bootstrap.Dependencies, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if cfg.IsDevelopment() && level == "info" {
		level = "debug"
	}
	logger.Init(logger.Config{
		Level:   level,
		Service: "triage",
		Pretty:  cfg.Log.Pretty,
	})

	return bootstrap.NewDependencies(c.Context, cfg)
}

func run(c *cli.Context, withAPI bool) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	return bootstrap.Serve(ctx, deps, withAPI)
}

