package fueldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rubiojr/ukfueldb/pkg/api"
)

const stationColumns = "id, site_id, name, brand, postcode, latitude, longitude"

// ResolveStation returns the id of the station with the feed site id,
// inserting it first when the site has never been seen. Existing stations
// keep the descriptive fields of their first insert.
func (s *Storage) ResolveStation(ctx context.Context, st *api.FeedStation) (id int64, created bool, err error) {
	if st.SiteID == "" {
		return 0, false, errors.New("station has no site_id")
	}
	lat, lng := st.Location.LatLng()

	err = s.withConn(ctx, func(conn *sql.Conn) error {
		insertErr := conn.QueryRowContext(ctx, `
			INSERT INTO fuel_stations (site_id, name, brand, postcode, latitude, longitude)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(site_id) DO NOTHING
			RETURNING id
		`, string(st.SiteID), st.Address, st.Brand, st.Postcode, lat, lng).Scan(&id)
		if insertErr == nil {
			created = true
			return nil
		}
		if !errors.Is(insertErr, sql.ErrNoRows) {
			s.log.Debug("Station insert failed, looking it up", "site_id", st.SiteID, "error", insertErr)
		}

		lookupErr := conn.QueryRowContext(ctx, "SELECT id FROM fuel_stations WHERE site_id = ?", string(st.SiteID)).Scan(&id)
		if lookupErr != nil {
			return fmt.Errorf("error resolving station %s: insert: %v, lookup: %w", st.SiteID, insertErr, lookupErr)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// ListStations returns every station ordered by id.
func (s *Storage) ListStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT "+stationColumns+" FROM fuel_stations ORDER BY id")
		if err != nil {
			return fmt.Errorf("error querying stations: %w", err)
		}
		defer rows.Close()

		stations, err = scanStations(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(stations) == 0 {
		return nil, ErrNoData
	}
	return stations, nil
}

// GetStation returns the station with the given id. It fails with
// ErrNotFound or ErrMultipleRows, both of which wrap ErrNoData.
func (s *Storage) GetStation(ctx context.Context, id int64) (*Station, error) {
	var stations []Station
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT "+stationColumns+" FROM fuel_stations WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("error querying station: %w", err)
		}
		defer rows.Close()

		stations, err = scanStations(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	switch len(stations) {
	case 0:
		return nil, fmt.Errorf("station %d: %w", id, ErrNotFound)
	case 1:
		return &stations[0], nil
	default:
		return nil, fmt.Errorf("station %d matched %d rows: %w", id, len(stations), ErrMultipleRows)
	}
}

func scanStations(rows *sql.Rows) ([]Station, error) {
	var stations []Station
	for rows.Next() {
		var st Station
		if err := rows.Scan(
			&st.ID,
			&st.SiteID,
			&st.Name,
			&st.Brand,
			&st.Postcode,
			&st.Latitude,
			&st.Longitude,
		); err != nil {
			return nil, fmt.Errorf("error scanning station: %w", err)
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stations: %w", err)
	}
	return stations, nil
}
