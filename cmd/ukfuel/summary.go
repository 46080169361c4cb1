package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
)

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Print database counts and average prices",
		Flags: []cli.Flag{
			dbFlag(),
			verboseFlag(),
		},
		Action: summaryAction,
	}
}

func summaryAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	storage, err := openStorage(c.Context, cfg, commandLogger(c, cfg))
	if err != nil {
		return err
	}
	defer storage.Close()

	summary, err := storage.Summary(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Stations: %d\n", summary.Stations)
	fmt.Printf("Price snapshots: %d\n", summary.Prices)

	last, err := storage.LastUpdate(c.Context)
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Println("Last update: never")
		return nil
	}
	fmt.Println("Last update:", fueldb.FormatTimestamp(*last))

	averages, err := storage.AveragePrices(c.Context)
	if fueldb.IsNoData(err) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("Average prices:")
	for _, fuel := range fueldb.FuelTypes {
		fmt.Printf("   %s: %s\n", fuel.Label(), averages[fuel])
	}
	return nil
}
