package geo

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/muesli/gominatim"
	"github.com/patrickmn/go-cache"
)

const DefaultNominatimServer = "https://nominatim.openstreetmap.org/"

var ErrLocationNotFound = errors.New("location not found")

// Geocoder resolves a free text location to coordinates.
type Geocoder interface {
	Geocode(location string) (lat, lng float64, err error)
}

// NominatimGeocoder resolves locations through a Nominatim server and keeps
// the answers in memory.
type NominatimGeocoder struct {
	server string
	cache  *cache.Cache
}

// gominatim keeps the server in a package level variable.
var nominatimMu sync.Mutex

func NewNominatimGeocoder(server string, ttl time.Duration) *NominatimGeocoder {
	if server == "" {
		server = DefaultNominatimServer
	}
	return &NominatimGeocoder{
		server: server,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (g *NominatimGeocoder) Geocode(location string) (lat, lng float64, err error) {
	if cached, ok := g.cache.Get(location); ok {
		result := cached.(gominatim.SearchResult)
		return resultToLatLon(result)
	}

	nominatimMu.Lock()
	gominatim.SetServer(g.server)
	query := gominatim.SearchQuery{
		Q: location,
	}
	results, err := query.Get()
	nominatimMu.Unlock()
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding error: %w", err)
	}

	if len(results) == 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	}
	g.cache.Set(location, results[0], cache.DefaultExpiration)

	return resultToLatLon(results[0])
}

func resultToLatLon(result gominatim.SearchResult) (lat, lng float64, err error) {
	lat, err = strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing latitude: %w", err)
	}

	lng, err = strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing longitude: %w", err)
	}

	return lat, lng, nil
}
