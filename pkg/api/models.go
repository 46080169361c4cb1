package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LastUpdatedLayout is the layout of the feed-level last_updated field. Day
// and month may or may not be zero padded.
const LastUpdatedLayout = "2/1/2006 15:04:05"

// Fuel type labels used as keys of FeedStation.Prices.
const (
	LabelE5  = "E5"
	LabelE10 = "E10"
	LabelB7  = "B7"
	LabelSDV = "SDV"
)

// Feed is a named upstream retailer endpoint.
type Feed struct {
	Name string
	URL  string
}

// FeedPayload represents the document published by every retailer.
// Stations that cannot be decoded are left out of Stations and reported in
// Invalid.
type FeedPayload struct {
	LastUpdated string        `json:"last_updated"`
	Stations    []FeedStation `json:"stations"`
	Invalid     []error       `json:"-"`
}

func (p *FeedPayload) UnmarshalJSON(b []byte) error {
	var raw struct {
		LastUpdated string            `json:"last_updated"`
		Stations    []json.RawMessage `json:"stations"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	p.LastUpdated = raw.LastUpdated
	p.Stations = make([]FeedStation, 0, len(raw.Stations))
	p.Invalid = nil
	for i, msg := range raw.Stations {
		var st FeedStation
		if err := json.Unmarshal(msg, &st); err != nil {
			p.Invalid = append(p.Invalid, fmt.Errorf("station %d: %w", i, err))
			continue
		}
		p.Stations = append(p.Stations, st)
	}
	return nil
}

// Timestamp parses LastUpdated. Feeds carry no zone, the result is UTC.
func (p *FeedPayload) Timestamp() (time.Time, error) {
	ts, err := time.Parse(LastUpdatedLayout, p.LastUpdated)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing last_updated %q: %w", p.LastUpdated, err)
	}
	return ts, nil
}

// FeedStation represents a single fuel station and its price information.
type FeedStation struct {
	SiteID   SiteID               `json:"site_id"`
	Brand    string               `json:"brand"`
	Address  string               `json:"address"`
	Postcode string               `json:"postcode"`
	Location Location             `json:"location"`
	Prices   map[string]FeedPrice `json:"prices"`
}

// FeedPrice is a published price. Values that are not numbers, such as
// empty strings, decode as unknown instead of failing the station.
type FeedPrice struct {
	decimal.NullDecimal
}

// NewFeedPrice returns a known price.
func NewFeedPrice(v float64) FeedPrice {
	return FeedPrice{decimal.NewNullDecimal(decimal.NewFromFloat(v))}
}

func (p *FeedPrice) UnmarshalJSON(b []byte) error {
	if err := p.NullDecimal.UnmarshalJSON(b); err != nil {
		p.NullDecimal = decimal.NullDecimal{}
	}
	return nil
}

// Location holds station coordinates. Some retailers publish them as strings.
type Location struct {
	Latitude  decimal.Decimal `json:"latitude"`
	Longitude decimal.Decimal `json:"longitude"`
}

// LatLng returns the coordinates as float64.
func (l Location) LatLng() (lat, lng float64) {
	return l.Latitude.InexactFloat64(), l.Longitude.InexactFloat64()
}

// Price returns the price published for label. Absent, null and the -1
// sentinel all report ok == false.
func (s *FeedStation) Price(label string) (price float64, ok bool) {
	p, found := s.Prices[label]
	if !found || !p.Valid || p.Decimal.Equal(sentinel) {
		return 0, false
	}
	return p.Decimal.InexactFloat64(), true
}

var sentinel = decimal.NewFromInt(-1)

// SiteID is the retailer station identifier. Most feeds publish a string,
// a few publish a bare number.
type SiteID string

func (id *SiteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = SiteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("error decoding site_id %s: %w", b, err)
	}
	*id = SiteID(n.String())
	return nil
}

// FeedResult is the outcome of fetching one feed. Exactly one of Payload
// and Err is set.
type FeedResult struct {
	Feed    Feed
	Payload *FeedPayload
	Err     error
}

// FeedError wraps a per-feed failure.
type FeedError struct {
	Feed string
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Feed, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}
