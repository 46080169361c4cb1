package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/internal/geo"
)

const noDataMessage = "No data."

type stationResponse struct {
	ID       int64      `json:"id"`
	SiteID   string     `json:"siteid"`
	Name     string     `json:"name"`
	Brand    string     `json:"brand"`
	Postcode string     `json:"postcode"`
	LatLon   [2]float64 `json:"latlon"`
}

type latestPricesResponse struct {
	E5      fueldb.Price `json:"e5"`
	E10     fueldb.Price `json:"e10"`
	B7      fueldb.Price `json:"b7"`
	SDV     fueldb.Price `json:"sdv"`
	Updated string       `json:"updated"`
}

type nearbyResponse struct {
	stationResponse
	DistanceKm float64                     `json:"distance_km"`
	Prices     any                         `json:"prices"`
	TravelCost map[fueldb.FuelType]float64 `json:"travel_cost_estimate"`
}

// priceResponse renders a snapshot. siteid carries the station id.
type priceResponse struct {
	ID        int64        `json:"id"`
	StationID int64        `json:"siteid"`
	E5        fueldb.Price `json:"price_e5"`
	E10       fueldb.Price `json:"price_e10"`
	B7        fueldb.Price `json:"price_b7"`
	SDV       fueldb.Price `json:"price_sdv"`
	Timestamp string       `json:"timestamp"`
}

type priceHistoryResponse struct {
	priceResponse
	E5Average  fueldb.Price `json:"price_e5_average"`
	E10Average fueldb.Price `json:"price_e10_average"`
	B7Average  fueldb.Price `json:"price_b7_average"`
	SDVAverage fueldb.Price `json:"price_sdv_average"`
}

type averagesResponse struct {
	E5  fueldb.Price `json:"price_e5"`
	E10 fueldb.Price `json:"price_e10"`
	B7  fueldb.Price `json:"price_b7"`
	SDV fueldb.Price `json:"price_sdv"`
}

type databaseResponse struct {
	FuelStations int64 `json:"FuelStations"`
	FuelPrices   int64 `json:"FuelPrices"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.storage.ListStations(r.Context())
	if err != nil {
		s.storeError(w, "Error listing stations", err)
		return
	}

	resp := make([]stationResponse, 0, len(stations))
	for i := range stations {
		resp = append(resp, newStationResponse(&stations[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	station, err := s.storage.GetStation(r.Context(), id)
	if err != nil {
		s.storeError(w, "Error getting station", err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStationResponse(station))
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var fuel fueldb.FuelType
	if v := query.Get("fueltype"); v != "" {
		parsed, err := fueldb.ParseFuelType(v)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		fuel = parsed
	}

	lat, lon, ok := s.queryPoint(w, r)
	if !ok {
		return
	}

	radius, err := positiveParam(query.Get("distance"), DefaultRadius)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, "Invalid distance value.")
		return
	}
	mpg, err := positiveParam(query.Get("mpg"), s.opts.MPG)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, "Invalid mpg value.")
		return
	}

	results, err := s.storage.NearestStations(r.Context(), fueldb.NearbyQuery{
		Lat:      lat,
		Lon:      lon,
		RadiusKm: radius,
		FuelType: fuel,
		MPG:      mpg,
	})
	if err != nil {
		s.storeError(w, "Error finding nearest stations", err)
		return
	}

	resp := make([]nearbyResponse, 0, len(results))
	for i := range results {
		resp = append(resp, newNearbyResponse(&results[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// queryPoint resolves the search point from the location parameter or from
// lat and lon. It writes the error response itself.
func (s *Server) queryPoint(w http.ResponseWriter, r *http.Request) (lat, lon float64, ok bool) {
	query := r.URL.Query()

	if location := query.Get("location"); location != "" {
		if s.opts.Geocoder == nil {
			s.writeJSON(w, http.StatusBadRequest, "Location search is not available.")
			return 0, 0, false
		}
		lat, lon, err := s.opts.Geocoder.Geocode(location)
		if errors.Is(err, geo.ErrLocationNotFound) {
			s.writeJSON(w, http.StatusNotFound, noDataMessage)
			return 0, 0, false
		}
		if err != nil {
			s.logger.Error("Error geocoding location", "location", location, "error", err)
			s.writeJSON(w, http.StatusBadGateway, "Location lookup failed.")
			return 0, 0, false
		}
		return lat, lon, true
	}

	latStr, lonStr := query.Get("lat"), query.Get("lon")
	if latStr == "" || lonStr == "" {
		s.writeJSON(w, http.StatusBadRequest, "lat and lon are required.")
		return 0, 0, false
	}

	lat, err := parseFinite(latStr)
	if err != nil || lat < -90 || lat > 90 {
		s.writeJSON(w, http.StatusBadRequest, "Invalid latitude value.")
		return 0, 0, false
	}
	lon, err = parseFinite(lonStr)
	if err != nil || lon < -180 || lon > 180 {
		s.writeJSON(w, http.StatusBadRequest, "Invalid longitude value.")
		return 0, 0, false
	}
	return lat, lon, true
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	s.ingest(r)

	snaps, err := s.storage.ListPrices(r.Context())
	if err != nil {
		s.storeError(w, "Error listing prices", err)
		return
	}

	resp := make([]priceResponse, 0, len(snaps))
	for i := range snaps {
		resp = append(resp, newPriceResponse(&snaps[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAveragePrices(w http.ResponseWriter, r *http.Request) {
	s.ingest(r)

	averages, err := s.storage.AveragePrices(r.Context())
	if err != nil {
		s.storeError(w, "Error averaging prices", err)
		return
	}

	s.writeJSON(w, http.StatusOK, averagesResponse{
		E5:  averages[fueldb.FuelE5],
		E10: averages[fueldb.FuelE10],
		B7:  averages[fueldb.FuelB7],
		SDV: averages[fueldb.FuelSDV],
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	s.ingest(r)

	history, err := s.storage.PriceHistory(r.Context(), id)
	if err != nil {
		s.storeError(w, "Error getting station prices", err)
		return
	}

	s.writeJSON(w, http.StatusOK, priceHistoryResponse{
		priceResponse: newPriceResponse(&history.Latest),
		E5Average:     history.Averages[fueldb.FuelE5],
		E10Average:    history.Averages[fueldb.FuelE10],
		B7Average:     history.Averages[fueldb.FuelB7],
		SDVAverage:    history.Averages[fueldb.FuelSDV],
	})
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	summary, err := s.storage.Summary(r.Context())
	if err != nil {
		s.logger.Error("Error summarising database", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	s.writeJSON(w, http.StatusOK, databaseResponse{
		FuelStations: summary.Stations,
		FuelPrices:   summary.Prices,
	})
}

// ingest runs a full feed pull before a price query. The request context is
// detached so a client going away never aborts the run. A failed run leaves
// the store as it was and the query answers from stored data.
func (s *Server) ingest(r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	if _, err := s.storage.UpdateDB(ctx, s.fetcher); err != nil {
		s.logger.Warn("Ingestion failed, serving stored data", "error", err)
	}
}

// storeError maps store errors to responses. Missing rows and duplicated rows
// are both reported to clients as no data but logged apart.
func (s *Server) storeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, fueldb.ErrMultipleRows):
		s.logger.Error(msg, "error", err)
		s.writeJSON(w, http.StatusNotFound, noDataMessage)
	case fueldb.IsNoData(err):
		s.logger.Debug(msg, "error", err)
		s.writeJSON(w, http.StatusNotFound, noDataMessage)
	default:
		s.logger.Error(msg, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, "Internal error.")
	}
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, "Invalid id.")
		return 0, false
	}
	return id, true
}

func positiveParam(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	f, err := parseFinite(v)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s is not positive", v)
	}
	return f, nil
}

// parseFinite parses a float and rejects NaN and infinities, which
// strconv accepts.
func parseFinite(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s is not a finite number", v)
	}
	return f, nil
}

func newStationResponse(st *fueldb.Station) stationResponse {
	return stationResponse{
		ID:       st.ID,
		SiteID:   st.SiteID,
		Name:     st.Name,
		Brand:    st.Brand,
		Postcode: st.Postcode,
		LatLon:   [2]float64{st.Latitude, st.Longitude},
	}
}

func newNearbyResponse(n *fueldb.NearbyStation) nearbyResponse {
	resp := nearbyResponse{
		stationResponse: newStationResponse(&n.Station),
		DistanceKm:      n.RoundedDistance(),
		Prices:          struct{}{},
		TravelCost:      n.TravelCost,
	}
	if n.Prices != nil {
		resp.Prices = latestPricesResponse{
			E5:      n.Prices.E5,
			E10:     n.Prices.E10,
			B7:      n.Prices.B7,
			SDV:     n.Prices.SDV,
			Updated: fueldb.FormatTimestamp(n.Prices.Timestamp),
		}
	}
	return resp
}

func newPriceResponse(snap *fueldb.PriceSnapshot) priceResponse {
	return priceResponse{
		ID:        snap.ID,
		StationID: snap.StationID,
		E5:        snap.E5,
		E10:       snap.E10,
		B7:        snap.B7,
		SDV:       snap.SDV,
		Timestamp: fueldb.FormatTimestamp(snap.Timestamp),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Error encoding response", "status", status, "error", err)
	}
}
