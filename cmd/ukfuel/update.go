package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"
)

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Pull every retailer feed into the fuel price database",
		Flags: []cli.Flag{
			dbFlag(),
			verboseFlag(),
		},
		Action: updateAction,
	}
}

func updateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	storage, err := openStorage(c.Context, cfg, commandLogger(c, cfg))
	if err != nil {
		return err
	}
	defer storage.Close()

	report, err := storage.UpdateDB(c.Context, newFeedClient(cfg))

	failed := make([]string, 0, len(report.FeedsFailed))
	for name := range report.FeedsFailed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Printf("Feed %s failed: %v\n", name, report.FeedsFailed[name])
	}
	fmt.Printf("Feeds: %d ok, %d failed\n", len(report.FeedsOK), len(report.FeedsFailed))
	fmt.Printf("Stations: %d new, %d known, %d skipped\n", report.StationsCreated, report.StationsExisting, report.StationsSkipped)
	fmt.Printf("Prices: %d new, %d duplicate, %d failed\n", report.PricesInserted, report.PricesDuplicate, report.PricesFailed)
	fmt.Printf("Took %s\n", report.Duration.Round(time.Millisecond))

	return err
}
