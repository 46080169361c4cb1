// Package geo implements the distance and travel cost helpers used by the
// nearest station search.
package geo

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// EarthRadiusKm is the IUGG mean Earth radius.
	EarthRadiusKm = 6371.0088

	LitresPerGallon = 4.546
	KmPerMile       = 1.60934
	DefaultMPG      = 30.0

	costDecimalPlaces = 2
)

// Distance returns the great-circle distance in kilometers between two
// points using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))

	return EarthRadiusKm * c
}

// TravelCost estimates, per fuel type, what driving distanceKm costs at the
// given per-litre prices. A price in pence per litre yields a cost in pounds.
// mpg <= 0 uses DefaultMPG. Only the fuel types present in prices appear in
// the result.
func TravelCost(prices map[string]float64, distanceKm, mpg float64) map[string]float64 {
	if mpg <= 0 {
		mpg = DefaultMPG
	}

	costs := make(map[string]float64, len(prices))
	for fuel, price := range prices {
		cost := (price * distanceKm * LitresPerGallon) / (mpg * KmPerMile * 100)
		costs[fuel] = Round(cost, costDecimalPlaces)
	}
	return costs
}

// Round rounds v half away from zero to places decimal places. NaN and
// infinities are returned unchanged.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
