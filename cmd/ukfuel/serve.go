package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/rubiojr/ukfueldb/internal/geo"
	"github.com/rubiojr/ukfueldb/internal/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the fuel price API",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to bind (defaults to $UKFUEL_HOST)",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "HTTP server port (defaults to $PORT)",
			},
			&cli.StringFlag{
				Name:  "refresh",
				Usage: "Cron schedule for background refreshes, e.g. \"@every 6h\"",
			},
			&cli.BoolFlag{
				Name:  "skip-update",
				Usage: "Do not pull the feeds on startup",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if c.IsSet("refresh") {
		cfg.RefreshSchedule = c.String("refresh")
	}

	logger := newLogger(cfg)

	storage, err := openStorage(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	fetcher := newFeedClient(cfg)

	if !c.Bool("skip-update") {
		if _, err := storage.UpdateDB(ctx, fetcher); err != nil {
			logger.Warn("Startup ingestion failed", "error", err)
		}
	}

	if cfg.RefreshSchedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.RefreshSchedule, func() {
			if _, err := storage.UpdateDB(ctx, fetcher); err != nil {
				logger.Error("Error updating prices", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshSchedule, err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("Scheduled refreshes", "schedule", cfg.RefreshSchedule)
	}

	srv := server.New(storage, fetcher, logger, server.Options{
		RateLimit: cfg.RateLimit,
		MPG:       cfg.MPG,
		Geocoder:  geo.NewNominatimGeocoder(cfg.NominatimServer, cfg.CacheTTL),
	})
	return srv.Run(ctx, cfg.ListenAddr())
}
