package fueldb

import (
	"context"
	"fmt"
	"sort"

	"github.com/patrickmn/go-cache"
	"github.com/rubiojr/ukfueldb/internal/geo"
)

// NearbyQuery describes a nearest station search. FuelType, when set, drops
// stations without a known price for it and orders the rest by that price.
// MPG is the fuel economy used by the travel cost estimate.
type NearbyQuery struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	FuelType FuelType
	MPG      float64
}

// NearbyStation is a station within the search radius. Prices is nil when
// the station has no stored snapshot.
type NearbyStation struct {
	Station
	DistanceKm float64
	Prices     *PriceSnapshot
	TravelCost map[FuelType]float64
}

// NearestStations returns the stations within q.RadiusKm of the query point.
// Results are cached per data version, so rows written by another process
// are picked up on the next call.
func (s *Storage) NearestStations(ctx context.Context, q NearbyQuery) ([]NearbyStation, error) {
	version, err := s.dataVersion(ctx)
	if err != nil {
		return nil, err
	}
	cacheKey := fmt.Sprintf("nearest_%s_%f_%f_%f_%s_%f", version, q.Lat, q.Lon, q.RadiusKm, q.FuelType, q.MPG)
	if cachedData, found := s.cache.Get(cacheKey); found {
		s.log.Debug("Using cached data", "key", cacheKey)
		return cachedData.([]NearbyStation), nil
	}

	stations, err := s.ListStations(ctx)
	if err != nil {
		return nil, err
	}

	nearby := make([]NearbyStation, 0)
	for _, st := range stations {
		d := geo.Distance(q.Lat, q.Lon, st.Latitude, st.Longitude)
		if d > q.RadiusKm {
			continue
		}
		nearby = append(nearby, NearbyStation{Station: st, DistanceKm: d})
	}

	if len(nearby) > 0 {
		latest, err := s.LatestPricesByStation(ctx)
		if err != nil {
			return nil, err
		}
		for i := range nearby {
			snap, ok := latest[nearby[i].ID]
			if !ok {
				nearby[i].TravelCost = map[FuelType]float64{}
				continue
			}
			nearby[i].Prices = &snap
			nearby[i].TravelCost = travelCost(&snap, nearby[i].DistanceKm, q.MPG)
		}
	}

	if q.FuelType == "" {
		sort.SliceStable(nearby, func(i, j int) bool {
			return nearby[i].DistanceKm < nearby[j].DistanceKm
		})
	} else {
		nearby = withKnownPrice(nearby, q.FuelType)
		sort.SliceStable(nearby, func(i, j int) bool {
			pi := nearby[i].Prices.Price(q.FuelType).Value
			pj := nearby[j].Prices.Price(q.FuelType).Value
			if pi != pj {
				return pi < pj
			}
			return nearby[i].DistanceKm < nearby[j].DistanceKm
		})
	}

	s.cache.Set(cacheKey, nearby, cache.DefaultExpiration)

	return nearby, nil
}

// RoundedDistance returns the distance rounded for display.
func (n *NearbyStation) RoundedDistance() float64 {
	return geo.Round(n.DistanceKm, distanceDecimalPlaces)
}

func withKnownPrice(stations []NearbyStation, fuel FuelType) []NearbyStation {
	kept := stations[:0]
	for _, st := range stations {
		if st.Prices != nil && st.Prices.Price(fuel).Valid {
			kept = append(kept, st)
		}
	}
	return kept
}

func travelCost(snap *PriceSnapshot, distanceKm, mpg float64) map[FuelType]float64 {
	known := snap.KnownPrices()
	prices := make(map[string]float64, len(known))
	for fuel, price := range known {
		prices[string(fuel)] = price
	}

	costs := geo.TravelCost(prices, distanceKm, mpg)
	result := make(map[FuelType]float64, len(costs))
	for fuel, cost := range costs {
		result[FuelType(fuel)] = cost
	}
	return result
}
