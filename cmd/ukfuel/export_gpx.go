package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tkrajina/gpxgo/gpx"
	"github.com/urfave/cli/v2"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/internal/server"
)

func exportGPXCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-gpx",
		Usage: "Export stations and their latest prices as GPX waypoints",
		Flags: []cli.Flag{
			dbFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file, - for stdout",
				Value:   "-",
			},
			&cli.Float64Flag{
				Name:  "lat",
				Usage: "Only export stations around this latitude",
			},
			&cli.Float64Flag{
				Name:  "long",
				Usage: "Only export stations around this longitude",
			},
			&cli.Float64Flag{
				Name:    "radius",
				Aliases: []string{"r"},
				Usage:   "Search radius in kilometers when --lat and --long are set",
				Value:   server.DefaultRadius,
			},
		},
		Action: exportGPXAction,
	}
}

func exportGPXAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("lat") != c.IsSet("long") {
		return errors.New("both latitude and longitude are required")
	}

	storage, err := openStorage(c.Context, cfg, commandLogger(c, cfg))
	if err != nil {
		return err
	}
	defer storage.Close()

	var waypoints []waypoint
	if c.IsSet("lat") {
		waypoints, err = nearbyWaypoints(c.Context, storage, c.Float64("lat"), c.Float64("long"), c.Float64("radius"))
	} else {
		waypoints, err = allWaypoints(c.Context, storage)
	}
	if err != nil {
		return err
	}

	data, err := buildGPX(waypoints).ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("error encoding gpx: %w", err)
	}

	if out := c.String("output"); out != "-" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("error writing %s: %w", out, err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d stations to %s\n", len(waypoints), out)
		return nil
	}
	_, err = os.Stdout.Write(data)
	return err
}

type waypoint struct {
	station fueldb.Station
	prices  *fueldb.PriceSnapshot
}

func allWaypoints(ctx context.Context, storage *fueldb.Storage) ([]waypoint, error) {
	stations, err := storage.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := storage.LatestPricesByStation(ctx)
	if err != nil {
		return nil, err
	}

	waypoints := make([]waypoint, 0, len(stations))
	for _, st := range stations {
		wp := waypoint{station: st}
		if snap, ok := latest[st.ID]; ok {
			wp.prices = &snap
		}
		waypoints = append(waypoints, wp)
	}
	return waypoints, nil
}

func nearbyWaypoints(ctx context.Context, storage *fueldb.Storage, lat, lon, radius float64) ([]waypoint, error) {
	nearby, err := storage.NearestStations(ctx, fueldb.NearbyQuery{Lat: lat, Lon: lon, RadiusKm: radius})
	if err != nil {
		return nil, err
	}

	waypoints := make([]waypoint, 0, len(nearby))
	for _, n := range nearby {
		waypoints = append(waypoints, waypoint{station: n.Station, prices: n.Prices})
	}
	return waypoints, nil
}

func buildGPX(waypoints []waypoint) *gpx.GPX {
	g := &gpx.GPX{
		Name:    "UK fuel stations",
		Creator: "ukfuel",
	}
	for _, wp := range waypoints {
		g.Waypoints = append(g.Waypoints, gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  wp.station.Latitude,
				Longitude: wp.station.Longitude,
			},
			Name:        fmt.Sprintf("%s %s", wp.station.Brand, wp.station.Postcode),
			Comment:     wp.station.Name,
			Description: describePrices(wp.prices),
			Type:        "Fuel Station",
		})
	}
	return g
}

func describePrices(snap *fueldb.PriceSnapshot) string {
	if snap == nil {
		return fueldb.NoDataMarker
	}
	parts := make([]string, 0, len(fueldb.FuelTypes)+1)
	for _, fuel := range fueldb.FuelTypes {
		parts = append(parts, fmt.Sprintf("%s: %s", fuel.Label(), snap.Price(fuel)))
	}
	parts = append(parts, "Updated: "+fueldb.FormatTimestamp(snap.Timestamp))
	return strings.Join(parts, ", ")
}
