package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

func checkFeedsCommand() *cli.Command {
	return &cli.Command{
		Name:   "check-feeds",
		Usage:  "Fetch every retailer feed and report its status without storing anything",
		Action: checkFeedsAction,
	}
}

func checkFeedsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	client := newFeedClient(cfg)
	fmt.Printf("Checking %d feeds...\n\n", len(client.Feeds()))

	results := client.FetchAll(c.Context)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEED\tSTATUS\tSTATIONS\tLAST UPDATED")
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(tw, "%s\tFAILED\t-\t%v\n", res.Feed.Name, res.Err)
			continue
		}
		ts, err := res.Payload.Timestamp()
		if err != nil {
			failed++
			fmt.Fprintf(tw, "%s\tINVALID\t%d\t%v\n", res.Feed.Name, len(res.Payload.Stations), err)
			continue
		}
		stations := strconv.Itoa(len(res.Payload.Stations))
		if n := len(res.Payload.Invalid); n > 0 {
			stations += fmt.Sprintf(" (%d skipped)", n)
		}
		fmt.Fprintf(tw, "%s\tOK\t%s\t%s\n", res.Feed.Name, stations, ts.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d feeds failed", failed, len(results))
	}
	return nil
}
