package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/urfave/cli/v2"

	"github.com/jdholdren/subl/internal/logger"
	"github.com/jdholdren/subl/internal/migrations"
	"github.com/jdholdren/subl/internal/sqlite"
)

type config struct {
	Database string `env:"DATABASE, required"`

	LoggerFormat            string        `env:"LOGGER_FORMAT, default=text"`
	LogLevel                string        `env:"LOG_LEVEL, default=info"`
	LeaseRenewalThreshold   time.Duration `env:"LEASE_RENEWAL_THRESHOLD, default=24h"`
	BackfillRecheckInterval time.Duration `env:"BACKFILL_RECHECK_INTERVAL, default=24h"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(cfg.LoggerFormat, cfg.LogLevel, os.Stderr))

	app := &cli.App{
		Name:  "subl",
		Usage: "Maintain the subscription store of a feed reader",
		Description: `Runs the periodic jobs over the subscription store: schema
		migrations, item expiration, WebSub lease upkeep and backfill checks.

		Configuration comes from the environment, e.g.:

		DATABASE=subl.db
		LEASE_RENEWAL_THRESHOLD=24h
		`,
		Commands: []*cli.Command{
			migrateCmd(cfg),
			sweepCmd(cfg),
			leasesCmd(cfg),
			backfillCmd(cfg),
			dueCmd(cfg),
		},
		Action: func(c *cli.Context) error {
			// Show help if no command is specified
			return c.App.Run([]string{"", "help"})
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// open connects to the database and brings its schema up to date.
func open(cfg config) (sqlite.Repo, func(), error) {
	dbx, err := sqlite.Open(cfg.Database)
	if err != nil {
		return sqlite.Repo{}, nil, err
	}
	if err := migrations.Run(dbx); err != nil {
		dbx.Close()
		return sqlite.Repo{}, nil, fmt.Errorf("error running migrations: %w", err)
	}

	return sqlite.New(dbx), func() { dbx.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd(cfg config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Action: func(c *cli.Context) error {
			dbx, err := sqlite.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer dbx.Close()

			if err := migrations.Run(dbx); err != nil {
				return err
			}
			version, dirty, err := migrations.Version(dbx)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (dirty: %t)\n", version, dirty)

			return nil
		},
	}
}

func sweepCmd(cfg config) *cli.Command {
	return &cli.Command{
		Name:        "sweep",
		Usage:       "Delete expired items",
		Description: `Deletes the items of every EXPIRE channel that are old enough, unpinned and not protected by another channel, then removes orphaned items.`,
		Action: func(c *cli.Context) error {
			repo, closeDB, err := open(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			res, err := repo.Sweep(c.Context, time.Now())
			if err != nil {
				return err
			}

			return printJSON(res)
		},
	}
}

func leasesCmd(cfg config) *cli.Command {
	return &cli.Command{
		Name:        "leases",
		Usage:       "Reset lapsed WebSub leases and list the ones to renew",
		Description: `Feeds whose lease ran out go back to polling. Feeds whose lease ends within LEASE_RENEWAL_THRESHOLD are printed for renewal.`,
		Action: func(c *cli.Context) error {
			repo, closeDB, err := open(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			lapsed, err := repo.LapseWebSubLeases(c.Context)
			if err != nil {
				return err
			}
			slog.InfoContext(c.Context, "lapsed leases reset", "count", lapsed)

			feeds, err := repo.FeedsExpiringSoon(c.Context, cfg.LeaseRenewalThreshold)
			if err != nil {
				return err
			}

			return printJSON(feeds)
		},
	}
}

func backfillCmd(cfg config) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "List subscriptions whose archive should be walked again",
		Action: func(c *cli.Context) error {
			repo, closeDB, err := open(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			subs, err := repo.SubscriptionsDueForBackfill(c.Context, time.Now(), cfg.BackfillRecheckInterval)
			if err != nil {
				return err
			}

			return printJSON(subs)
		},
	}
}

func dueCmd(cfg config) *cli.Command {
	return &cli.Command{
		Name:  "due",
		Usage: "List feeds due for polling",
		Action: func(c *cli.Context) error {
			repo, closeDB, err := open(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			feeds, err := repo.FeedsDueForUpdate(c.Context, time.Now())
			if err != nil {
				return err
			}

			return printJSON(feeds)
		},
	}
}
