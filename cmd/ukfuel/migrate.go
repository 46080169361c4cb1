package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the fuel price database schema",
		Flags: []cli.Flag{
			dbFlag(),
			verboseFlag(),
		},
		Action: migrateAction,
	}
}

func migrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	storage, err := openStorage(c.Context, cfg, commandLogger(c, cfg))
	if err != nil {
		return err
	}
	defer storage.Close()

	fmt.Println("Database ready:", cfg.DBPath)
	return nil
}
