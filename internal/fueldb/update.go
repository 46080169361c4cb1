package fueldb

import (
	"context"
	"errors"
	"time"

	"github.com/rubiojr/ukfueldb/pkg/api"
)

// ErrAllFeedsFailed is returned by UpdateDB when no feed could be fetched.
// The store is left unchanged.
var ErrAllFeedsFailed = errors.New("all feeds failed")

// FeedFetcher fetches every configured retailer feed.
type FeedFetcher interface {
	FetchAll(ctx context.Context) []api.FeedResult
}

// UpdateReport summarises an update run.
type UpdateReport struct {
	FeedsOK          []string
	FeedsFailed      map[string]error
	StationsCreated  int
	StationsExisting int
	StationsSkipped  int
	PricesInserted   int
	PricesDuplicate  int
	PricesFailed     int
	Duration         time.Duration
}

// UpdateDB pulls every feed and stores its stations and prices. Each station
// is stored on its own: a failing station or price is logged and skipped and
// never undoes what the run already stored.
func (s *Storage) UpdateDB(ctx context.Context, fetcher FeedFetcher) (*UpdateReport, error) {
	start := time.Now()
	report := &UpdateReport{FeedsFailed: map[string]error{}}

	results := fetcher.FetchAll(ctx)
	for _, res := range results {
		if res.Err != nil {
			s.log.Warn("Skipping feed", "feed", res.Feed.Name, "error", res.Err)
			report.FeedsFailed[res.Feed.Name] = res.Err
			continue
		}

		ts, err := res.Payload.Timestamp()
		if err != nil {
			s.log.Warn("Skipping feed", "feed", res.Feed.Name, "error", err)
			report.FeedsFailed[res.Feed.Name] = err
			continue
		}

		if n := len(res.Payload.Invalid); n > 0 {
			s.log.Warn("Skipping undecodable stations", "feed", res.Feed.Name, "count", n, "first_error", res.Payload.Invalid[0])
			report.StationsSkipped += n
		}

		s.log.Debug("Storing feed", "feed", res.Feed.Name, "stations", len(res.Payload.Stations), "last_updated", ts)
		s.storeFeed(ctx, res.Feed.Name, ts, res.Payload.Stations, report)
		report.FeedsOK = append(report.FeedsOK, res.Feed.Name)
	}

	if report.StationsCreated > 0 || report.PricesInserted > 0 {
		s.cache.Flush()
	}
	report.Duration = time.Since(start)

	s.log.Info("Update completed",
		"feeds_ok", len(report.FeedsOK),
		"feeds_failed", len(report.FeedsFailed),
		"stations_created", report.StationsCreated,
		"stations_skipped", report.StationsSkipped,
		"prices_inserted", report.PricesInserted,
		"prices_duplicate", report.PricesDuplicate,
		"prices_failed", report.PricesFailed,
		"duration", report.Duration,
	)

	if len(results) > 0 && len(report.FeedsOK) == 0 {
		return report, ErrAllFeedsFailed
	}
	return report, nil
}

func (s *Storage) storeFeed(ctx context.Context, feed string, ts time.Time, stations []api.FeedStation, report *UpdateReport) {
	for i := range stations {
		station := &stations[i]

		id, created, err := s.ResolveStation(ctx, station)
		if err != nil {
			s.log.Warn("Skipping station", "feed", feed, "site_id", station.SiteID, "error", err)
			report.StationsSkipped++
			continue
		}
		if created {
			report.StationsCreated++
		} else {
			report.StationsExisting++
		}

		inserted, err := s.InsertPrice(ctx, NewSnapshot(id, ts, station))
		if err != nil {
			s.log.Warn("Error storing prices", "feed", feed, "site_id", station.SiteID, "error", err)
			report.PricesFailed++
			continue
		}
		if inserted {
			report.PricesInserted++
		} else {
			report.PricesDuplicate++
		}
	}
}
