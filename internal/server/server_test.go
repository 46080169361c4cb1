package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/httplog/v2"
	"github.com/shopspring/decimal"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/internal/geo"
	"github.com/rubiojr/ukfueldb/pkg/api"
)

type fakeFetcher struct {
	results   []api.FeedResult
	calls     atomic.Int32
	cancelled atomic.Bool
}

func (f *fakeFetcher) FetchAll(ctx context.Context) []api.FeedResult {
	f.calls.Add(1)
	if ctx.Err() != nil {
		f.cancelled.Store(true)
	}
	return f.results
}

type fakeGeocoder map[string][2]float64

func (g fakeGeocoder) Geocode(location string) (float64, float64, error) {
	p, ok := g[location]
	if !ok {
		return 0, 0, geo.ErrLocationNotFound
	}
	return p[0], p[1], nil
}

func testLogger() *httplog.Logger {
	return httplog.NewLogger("ukfuel-test", httplog.Options{
		LogLevel: slog.LevelError,
		Concise:  true,
		Writer:   io.Discard,
	})
}

func newTestServer(t *testing.T, fetcher fueldb.FeedFetcher, opts Options) (*Server, *fueldb.Storage) {
	t.Helper()
	storage, err := fueldb.NewStorage(context.Background(), filepath.Join(t.TempDir(), "fuel.db"), nil)
	if err != nil {
		t.Fatalf("NewStorage() failed: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	if fetcher == nil {
		fetcher = &fakeFetcher{}
	}
	return New(storage, fetcher, testLogger(), opts), storage
}

func station(siteID string, lat, lng float64, prices map[string]float64) api.FeedStation {
	st := api.FeedStation{
		SiteID:   api.SiteID(siteID),
		Brand:    "BRAND",
		Address:  "Address of " + siteID,
		Postcode: "AB1 2CD",
		Location: api.Location{
			Latitude:  decimal.NewFromFloat(lat),
			Longitude: decimal.NewFromFloat(lng),
		},
		Prices: map[string]api.FeedPrice{},
	}
	for label, v := range prices {
		st.Prices[label] = api.NewFeedPrice(v)
	}
	return st
}

func feed(name, lastUpdated string, stations ...api.FeedStation) api.FeedResult {
	return api.FeedResult{
		Feed:    api.Feed{Name: name},
		Payload: &api.FeedPayload{LastUpdated: lastUpdated, Stations: stations},
	}
}

func kmNorth(lat, d float64) float64 {
	return lat + d/111.19508
}

func seed(t *testing.T, storage *fueldb.Storage, results ...api.FeedResult) {
	t.Helper()
	if _, err := storage.UpdateDB(context.Background(), &fakeFetcher{results: results}); err != nil {
		t.Fatalf("UpdateDB() failed: %v", err)
	}
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Error decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "ok" {
		t.Errorf("Unexpected body %v", got)
	}
}

func TestStationsEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	rec := get(t, srv, "/stations")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	if got := decode[string](t, rec); got != "No data." {
		t.Errorf("Expected \"No data.\", got %q", got)
	}
}

func TestStations(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage, feed("tesco", "18/10/2026 09:00:00",
		station("t1", 51.5, -0.1, map[string]float64{"E5": 142.9}),
		station("t2", 52.5, -1.9, nil),
	))

	rec := get(t, srv, "/stations")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decode[[]map[string]any](t, rec)
	if len(got) != 2 {
		t.Fatalf("Expected 2 stations, got %d", len(got))
	}
	if got[0]["siteid"] != "t1" || got[0]["name"] != "Address of t1" {
		t.Errorf("Unexpected station %v", got[0])
	}
	latlon, ok := got[0]["latlon"].([]any)
	if !ok || len(latlon) != 2 || latlon[0] != 51.5 || latlon[1] != -0.1 {
		t.Errorf("Unexpected latlon %v", got[0]["latlon"])
	}
}

func TestStationByID(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage, feed("bp", "18/10/2026 09:00:00", station("bp1", 51.5, -0.1, nil)))

	tests := []struct {
		target string
		status int
	}{
		{"/station/1", http.StatusOK},
		{"/station/2", http.StatusNotFound},
		{"/station/abc", http.StatusBadRequest},
	}

	for _, test := range tests {
		rec := get(t, srv, test.target)
		if rec.Code != test.status {
			t.Errorf("GET %s: expected %d, got %d", test.target, test.status, rec.Code)
		}
	}

	got := decode[map[string]any](t, get(t, srv, "/station/1"))
	if got["siteid"] != "bp1" || got["id"] != float64(1) {
		t.Errorf("Unexpected station %v", got)
	}
}

func TestNearestInvalidFuelType(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	rec := get(t, srv, "/stations/nearest?lat=51.5&lon=-0.1&distance=10&fueltype=xyz")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	msg := decode[string](t, rec)
	for _, want := range []string{"xyz", "'e5'", "'e10'", "'b7'", "'sdv'"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error message to contain %s, got %q", want, msg)
		}
	}
}

func TestNearestBadParams(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	for _, target := range []string{
		"/stations/nearest",
		"/stations/nearest?lat=51.5",
		"/stations/nearest?lat=north&lon=-0.1",
		"/stations/nearest?lat=95&lon=-0.1",
		"/stations/nearest?lat=51.5&lon=-0.1&distance=-2",
		"/stations/nearest?lat=51.5&lon=-0.1&mpg=zero",
		"/stations/nearest?lat=NaN&lon=-0.1",
		"/stations/nearest?lat=51.5&lon=NaN",
		"/stations/nearest?lat=51.5&lon=-0.1&distance=NaN",
		"/stations/nearest?lat=51.5&lon=-0.1&distance=Inf",
		"/stations/nearest?lat=51.5&lon=-0.1&mpg=NaN",
		"/stations/nearest?location=London",
	} {
		if rec := get(t, srv, target); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestWriteJSONLogsEncodeError(t *testing.T) {
	var buf bytes.Buffer
	logger := httplog.NewLogger("ukfuel-test", httplog.Options{
		LogLevel: slog.LevelDebug,
		Concise:  true,
		Writer:   &buf,
	})
	srv := New(nil, &fakeFetcher{}, logger, Options{})

	rec := httptest.NewRecorder()
	srv.writeJSON(rec, http.StatusOK, math.NaN())
	if !strings.Contains(buf.String(), "Error encoding response") {
		t.Errorf("Expected encode error to be logged, got %q", buf.String())
	}
}

func TestNearestEmptyStore(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})
	rec := get(t, srv, "/stations/nearest?lat=51.5&lon=-0.1&distance=10")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestNearestNothingInRadius(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage, feed("esso", "18/10/2026 09:00:00", station("e1", 55.9, -3.2, nil)))

	rec := get(t, srv, "/stations/nearest?lat=51.5&lon=-0.1&distance=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("Expected empty array, got %s", got)
	}
}

func TestNearestOrdering(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	lat, lon := 51.5, -0.1
	seed(t, storage, feed("asda", "18/10/2026 09:00:00",
		station("A", kmNorth(lat, 2), lon, map[string]float64{"E5": 1.50}),
		station("B", kmNorth(lat, 8), lon, map[string]float64{"E5": 1.40}),
		station("C", kmNorth(lat, 1), lon, map[string]float64{"B7": 1.55}),
	))

	byDistance := decode[[]map[string]any](t, get(t, srv, "/stations/nearest?lat=51.5&lon=-0.1&distance=10"))
	var order []string
	for _, st := range byDistance {
		order = append(order, st["siteid"].(string))
	}
	if strings.Join(order, ",") != "C,A,B" {
		t.Errorf("Expected distance order C,A,B, got %v", order)
	}

	byPrice := decode[[]map[string]any](t, get(t, srv, "/stations/nearest?lat=51.5&lon=-0.1&distance=10&fueltype=e5"))
	order = order[:0]
	for _, st := range byPrice {
		order = append(order, st["siteid"].(string))
	}
	if strings.Join(order, ",") != "B,A" {
		t.Errorf("Expected price order B,A, got %v", order)
	}

	first := byDistance[0]
	if first["distance_km"] != 1.0 {
		t.Errorf("Expected distance_km 1, got %v", first["distance_km"])
	}
	prices := first["prices"].(map[string]any)
	if prices["e5"] != fueldb.NoDataMarker || prices["b7"] != 1.55 {
		t.Errorf("Unexpected prices %v", prices)
	}
	if prices["updated"] != "09:00 (18/10/2026)" {
		t.Errorf("Unexpected updated %v", prices["updated"])
	}
	costs := first["travel_cost_estimate"].(map[string]any)
	if _, ok := costs["e5"]; ok {
		t.Errorf("Expected unknown e5 to be left out of travel costs, got %v", costs)
	}
	if _, ok := costs["b7"]; !ok {
		t.Errorf("Expected b7 travel cost, got %v", costs)
	}
}

func TestNearestByLocation(t *testing.T) {
	geocoder := fakeGeocoder{"Leeds": {53.8, -1.55}}
	srv, storage := newTestServer(t, nil, Options{Geocoder: geocoder})
	seed(t, storage, feed("morrisons", "18/10/2026 09:00:00",
		station("m1", kmNorth(53.8, 3), -1.55, map[string]float64{"E10": 135.9}),
	))

	rec := get(t, srv, "/stations/nearest?location=Leeds&distance=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decode[[]map[string]any](t, rec); len(got) != 1 || got[0]["siteid"] != "m1" {
		t.Errorf("Unexpected results %v", got)
	}

	if rec := get(t, srv, "/stations/nearest?location=Atlantis"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown location, got %d", rec.Code)
	}
}

func TestPricesTriggersIngestion(t *testing.T) {
	feedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"last_updated": "18/10/2026 07:15:00",
			"stations": [
				{"site_id": "s1", "brand": "SAINSBURYS", "address": "1 High St", "postcode": "AB1 2CD",
				 "location": {"latitude": 51.5, "longitude": -0.1},
				 "prices": {"E5": 145.9, "E10": 139.9, "B7": -1}}
			]
		}`)
	}))
	defer feedSrv.Close()

	client := api.NewFeedClient([]api.Feed{{Name: "sainsburys", URL: feedSrv.URL}})
	srv, _ := newTestServer(t, client, Options{})

	rec := get(t, srv, "/prices")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[[]map[string]any](t, rec)
	if len(got) != 1 {
		t.Fatalf("Expected 1 price row, got %d", len(got))
	}
	row := got[0]
	if row["price_e5"] != 145.9 || row["price_b7"] != fueldb.NoDataMarker || row["price_sdv"] != fueldb.NoDataMarker {
		t.Errorf("Unexpected price row %v", row)
	}
	if row["siteid"] != float64(1) || row["timestamp"] != "07:15 (18/10/2026)" {
		t.Errorf("Unexpected price row %v", row)
	}

	// A second pull of the same feed adds nothing.
	if got := decode[[]map[string]any](t, get(t, srv, "/prices")); len(got) != 1 {
		t.Errorf("Expected still 1 price row, got %d", len(got))
	}
}

func TestPricesIngestionIgnoresClientCancellation(t *testing.T) {
	fetcher := &fakeFetcher{results: []api.FeedResult{
		feed("shell", "18/10/2026 09:00:00", station("sh1", 51.5, -0.1, map[string]float64{"E5": 150.9})),
	}}
	srv, storage := newTestServer(t, fetcher, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/prices/average", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if fetcher.calls.Load() != 1 {
		t.Fatalf("Expected one ingestion run, got %d", fetcher.calls.Load())
	}
	if fetcher.cancelled.Load() {
		t.Error("Expected ingestion to run on a live context")
	}
	summary, err := storage.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() failed: %v", err)
	}
	if summary.Prices != 1 {
		t.Errorf("Expected ingestion to complete, got %+v", summary)
	}
}

func TestPricesAllFeedsFailed(t *testing.T) {
	fetcher := &fakeFetcher{results: []api.FeedResult{
		{Feed: api.Feed{Name: "tesco"}, Err: errors.New("connection refused")},
	}}
	srv, _ := newTestServer(t, fetcher, Options{})

	for _, target := range []string{"/prices", "/prices/average", "/price/1"} {
		if rec := get(t, srv, target); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestAveragePrices(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage, feed("bp", "17/10/2026 09:00:00",
		station("bp1", 51.5, -0.1, map[string]float64{"E5": 1.50, "E10": 0}),
		station("bp2", 51.6, -0.1, map[string]float64{"E5": 1.60, "B7": -1}),
	))

	rec := get(t, srv, "/prices/average")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["price_e5"] != 1.55 {
		t.Errorf("Expected price_e5 1.55, got %v", got["price_e5"])
	}
	if got["price_e10"] != fueldb.NoDataMarker || got["price_b7"] != fueldb.NoDataMarker {
		t.Errorf("Expected no data for e10 and b7, got %v", got)
	}
}

func TestPriceByID(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage, feed("tesco", "16/10/2026 09:00:00", station("t1", 51.5, -0.1, map[string]float64{"E5": 140, "B7": 150})))
	seed(t, storage, feed("tesco", "17/10/2026 09:00:00", station("t1", 51.5, -0.1, map[string]float64{"E5": 144})))

	rec := get(t, srv, "/price/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["price_e5"] != float64(144) || got["price_e5_average"] != float64(142) {
		t.Errorf("Unexpected e5 values %v", got)
	}
	if got["price_b7"] != fueldb.NoDataMarker || got["price_b7_average"] != float64(150) {
		t.Errorf("Unexpected b7 values %v", got)
	}
	if got["price_sdv_average"] != fueldb.NoDataMarker {
		t.Errorf("Expected no sdv average, got %v", got["price_sdv_average"])
	}
	if got["timestamp"] != "09:00 (17/10/2026)" {
		t.Errorf("Unexpected timestamp %v", got["timestamp"])
	}

	if rec := get(t, srv, "/price/7"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown station, got %d", rec.Code)
	}
}

func TestDatabase(t *testing.T) {
	srv, storage := newTestServer(t, nil, Options{})
	seed(t, storage,
		feed("tesco", "18/10/2026 09:00:00", station("t1", 51.5, -0.1, nil), station("t2", 51.6, -0.1, nil)),
		feed("esso", "18/10/2026 08:00:00", station("e1", 51.7, -0.1, nil)),
	)

	rec := get(t, srv, "/database")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decode[map[string]int64](t, rec)
	if got["FuelStations"] != 3 || got["FuelPrices"] != 3 {
		t.Errorf("Unexpected counts %v", got)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{})

	rec := get(t, srv, "/healthz")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected CORS header, got %v", rec.Header())
	}

	req := httptest.NewRequest(http.MethodOptions, "/stations", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, nil, Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		if rec := get(t, srv, "/healthz"); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
}
