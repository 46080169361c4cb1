package fueldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/ukfueldb/internal/geo"
	"github.com/rubiojr/ukfueldb/pkg/api"
)

const (
	// NoDataMarker is rendered in place of a price that is unknown.
	NoDataMarker = "No data available."

	// DisplayLayout is how timestamps are rendered to clients.
	DisplayLayout = "15:04 (02/01/2006)"

	timestampLayout       = "2006-01-02 15:04:05"
	priceDecimalPlaces    = 2
	distanceDecimalPlaces = 2
)

type FuelType string

const (
	FuelE5  FuelType = "e5"
	FuelE10 FuelType = "e10"
	FuelB7  FuelType = "b7"
	FuelSDV FuelType = "sdv"
)

// FuelTypes lists the accepted fuel types in display order.
var FuelTypes = []FuelType{FuelE5, FuelE10, FuelB7, FuelSDV}

// Label returns the key used by the retailer feeds.
func (f FuelType) Label() string {
	switch f {
	case FuelE5:
		return api.LabelE5
	case FuelE10:
		return api.LabelE10
	case FuelB7:
		return api.LabelB7
	case FuelSDV:
		return api.LabelSDV
	}
	return strings.ToUpper(string(f))
}

// InvalidFuelTypeError reports a fuel type outside FuelTypes.
type InvalidFuelTypeError struct {
	Value string
}

func (e *InvalidFuelTypeError) Error() string {
	return fmt.Sprintf("%s is not a valid option for fueltype. Please choose one of 'e5', 'e10', 'b7' or 'sdv'.", e.Value)
}

// ParseFuelType validates s against the accepted fuel types.
func ParseFuelType(s string) (FuelType, error) {
	for _, f := range FuelTypes {
		if string(f) == s {
			return f, nil
		}
	}
	return "", &InvalidFuelTypeError{Value: s}
}

// Price is a per-litre price. An invalid Price means the fuel is not sold or
// the retailer did not publish it.
type Price struct {
	Value float64
	Valid bool
}

func NewPrice(v float64) Price {
	return Price{Value: v, Valid: true}
}

// Rounded returns the price rounded to two decimal places.
func (p Price) Rounded() float64 {
	return geo.Round(p.Value, priceDecimalPlaces)
}

func (p Price) String() string {
	if !p.Valid {
		return NoDataMarker
	}
	return fmt.Sprintf("%.2f", p.Rounded())
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return json.Marshal(NoDataMarker)
	}
	return json.Marshal(p.Rounded())
}

func (p Price) nullable() any {
	if !p.Valid {
		return nil
	}
	return p.Value
}

func priceFromNull(n sql.NullFloat64) Price {
	return Price{Value: n.Float64, Valid: n.Valid}
}

// Station is the identity record of a retail site.
type Station struct {
	ID        int64
	SiteID    string
	Name      string
	Brand     string
	Postcode  string
	Latitude  float64
	Longitude float64
}

// PriceSnapshot is the set of prices a feed declared for a station at a
// point in time.
type PriceSnapshot struct {
	ID        int64
	StationID int64
	E5        Price
	E10       Price
	B7        Price
	SDV       Price
	Timestamp time.Time
}

// Price returns the snapshot price for fuel.
func (p *PriceSnapshot) Price(fuel FuelType) Price {
	switch fuel {
	case FuelE5:
		return p.E5
	case FuelE10:
		return p.E10
	case FuelB7:
		return p.B7
	case FuelSDV:
		return p.SDV
	}
	return Price{}
}

// KnownPrices returns the valid prices keyed by fuel type.
func (p *PriceSnapshot) KnownPrices() map[FuelType]float64 {
	known := make(map[FuelType]float64, len(FuelTypes))
	for _, f := range FuelTypes {
		if price := p.Price(f); price.Valid {
			known[f] = price.Value
		}
	}
	return known
}

// NewSnapshot builds the snapshot for a feed station. Fuel types missing
// from the feed are stored as unknown.
func NewSnapshot(stationID int64, ts time.Time, st *api.FeedStation) PriceSnapshot {
	snap := PriceSnapshot{StationID: stationID, Timestamp: ts}
	prices := map[FuelType]*Price{
		FuelE5:  &snap.E5,
		FuelE10: &snap.E10,
		FuelB7:  &snap.B7,
		FuelSDV: &snap.SDV,
	}
	for fuel, dst := range prices {
		if v, ok := st.Price(fuel.Label()); ok {
			*dst = NewPrice(v)
		}
	}
	return snap
}

// FormatTimestamp renders ts the way clients expect it.
func FormatTimestamp(ts time.Time) string {
	return ts.Format(DisplayLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing timestamp %s: %w", s, err)
	}
	return ts, nil
}
