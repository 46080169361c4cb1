package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/urfave/cli/v2"

	"github.com/rubiojr/ukfueldb/internal/config"
	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/pkg/api"
)

func main() {
	app := &cli.App{
		Name:  "ukfuel",
		Usage: "Aggregate UK retailer fuel prices and find nearby stations",
		Commands: []*cli.Command{
			serveCommand(),
			updateCommand(),
			migrateCommand(),
			listNearbyCommand(),
			checkFeedsCommand(),
			summaryCommand(),
			exportGPXCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Usage:    "Database file (defaults to $UKFUEL_DB or " + config.DefaultDBPath + ")",
		Required: false,
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Log progress to stderr",
	}
}

// loadConfig reads the environment and applies the flags shared by every
// command.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *httplog.Logger {
	return httplog.NewLogger("ukfuel", httplog.Options{
		JSON:            cfg.LogJSON,
		LogLevel:        cfg.LogLevel,
		Concise:         true,
		QuietDownPeriod: 10 * time.Second,
		Writer:          os.Stderr,
	})
}

// commandLogger discards logs unless --verbose is set.
func commandLogger(c *cli.Context, cfg config.Config) *slog.Logger {
	if !c.Bool("verbose") {
		return slog.New(slog.DiscardHandler)
	}
	return newLogger(cfg).Logger
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*fueldb.Storage, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}
	storage, err := fueldb.NewStorage(ctx, cfg.DBPath, logger, fueldb.WithCacheTTL(cfg.CacheTTL))
	if err != nil {
		return nil, fmt.Errorf("error initializing storage: %w", err)
	}
	return storage, nil
}

func newFeedClient(cfg config.Config) *api.FeedClient {
	return api.NewFeedClient(cfg.Feeds,
		api.WithUserAgent(cfg.UserAgent),
		api.WithTimeout(cfg.FeedTimeout),
		api.WithRateLimit(cfg.FeedRate),
		api.WithConcurrency(cfg.FeedConcurrency),
	)
}
