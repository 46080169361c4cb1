package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/internal/geo"
	"github.com/rubiojr/ukfueldb/internal/server"
)

func listNearbyCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-nearby",
		Usage: "List nearby fuel stations with their latest prices",
		Flags: []cli.Flag{
			dbFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:  "location",
				Usage: "Location to search",
			},
			&cli.Float64Flag{
				Name:  "lat",
				Usage: "Latitude of the location",
			},
			&cli.Float64Flag{
				Name:  "long",
				Usage: "Longitude of the location",
			},
			&cli.Float64Flag{
				Name:    "radius",
				Aliases: []string{"r"},
				Usage:   "Search radius in kilometers",
				Value:   server.DefaultRadius,
			},
			&cli.StringFlag{
				Name:  "fuel",
				Usage: "Only stations selling this fuel, cheapest first (e5, e10, b7, sdv)",
			},
			&cli.Float64Flag{
				Name:  "mpg",
				Usage: "Fuel economy used for the travel cost estimate",
				Value: geo.DefaultMPG,
			},
		},
		Action: listNearbyAction,
	}
}

func listNearbyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	q := fueldb.NearbyQuery{
		Lat:      c.Float64("lat"),
		Lon:      c.Float64("long"),
		RadiusKm: c.Float64("radius"),
		MPG:      c.Float64("mpg"),
	}
	if q.RadiusKm <= 0 {
		return errors.New("radius must be positive")
	}
	if v := c.String("fuel"); v != "" {
		if q.FuelType, err = fueldb.ParseFuelType(v); err != nil {
			return err
		}
	}

	if loc := c.String("location"); loc != "" {
		geocoder := geo.NewNominatimGeocoder(cfg.NominatimServer, time.Hour)
		q.Lat, q.Lon, err = geocoder.Geocode(loc)
		if err != nil {
			return err
		}
		fmt.Printf("Location found: %.5f, %.5f\n", q.Lat, q.Lon)
	} else if !c.IsSet("lat") || !c.IsSet("long") {
		return errors.New("location or latitude and longitude are required")
	}

	storage, err := openStorage(c.Context, cfg, commandLogger(c, cfg))
	if err != nil {
		return err
	}
	defer storage.Close()

	fmt.Printf("Filtering stations within %g km radius...\n\n", q.RadiusKm)

	stations, err := storage.NearestStations(c.Context, q)
	if err != nil {
		return fmt.Errorf("error fetching nearby stations: %w", err)
	}

	for i, st := range stations {
		fmt.Printf("%d. %s (%s)\n", i+1, st.Brand, st.Name)
		fmt.Printf("   Postcode: %s\n", st.Postcode)
		fmt.Printf("   Distance: %.2f km\n", st.DistanceKm)
		if st.Prices == nil {
			fmt.Printf("   Prices: %s\n", fueldb.NoDataMarker)
		} else {
			for _, fuel := range fueldb.FuelTypes {
				fmt.Printf("   %s: %s\n", fuel.Label(), st.Prices.Price(fuel))
			}
			fmt.Printf("   Updated: %s\n", fueldb.FormatTimestamp(st.Prices.Timestamp))
		}
		if len(st.TravelCost) > 0 {
			fmt.Printf("   Travel cost: %s\n", formatTravelCost(st.TravelCost))
		}
		fmt.Printf("   Coordinates: %.6f, %.6f\n\n", st.Latitude, st.Longitude)
	}

	fmt.Printf("Found %d stations within %g km radius\n\n", len(stations), q.RadiusKm)

	return nil
}

func formatTravelCost(costs map[fueldb.FuelType]float64) string {
	fuels := make([]string, 0, len(costs))
	for fuel := range costs {
		fuels = append(fuels, string(fuel))
	}
	sort.Strings(fuels)

	out := ""
	for i, fuel := range fuels {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s £%.2f", fueldb.FuelType(fuel).Label(), costs[fueldb.FuelType(fuel)])
	}
	return out
}
