package fueldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const priceColumns = "id, station_id, price_e5, price_e10, price_b7, price_sdv, timestamp"

// InsertPrice stores snap. A snapshot already stored for the same station and
// timestamp is left untouched and reported with inserted == false.
func (s *Storage) InsertPrice(ctx context.Context, snap PriceSnapshot) (inserted bool, err error) {
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO fuel_prices (station_id, price_e5, price_e10, price_b7, price_sdv, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id, timestamp) DO NOTHING
		`,
			snap.StationID,
			snap.E5.nullable(),
			snap.E10.nullable(),
			snap.B7.nullable(),
			snap.SDV.nullable(),
			snap.Timestamp.Format(timestampLayout),
		)
		if err != nil {
			return fmt.Errorf("error inserting prices for station %d: %w", snap.StationID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading affected rows: %w", err)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// ListPrices returns every stored snapshot ordered by id.
func (s *Storage) ListPrices(ctx context.Context) ([]PriceSnapshot, error) {
	var snaps []PriceSnapshot
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, "SELECT "+priceColumns+" FROM fuel_prices ORDER BY id")
		if err != nil {
			return fmt.Errorf("error querying prices: %w", err)
		}
		defer rows.Close()

		snaps, err = scanSnapshots(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(snaps) == 0 {
		return nil, ErrNoData
	}
	return snaps, nil
}

// LatestPrices returns the most recent snapshot of a station.
func (s *Storage) LatestPrices(ctx context.Context, stationID int64) (*PriceSnapshot, error) {
	var snaps []PriceSnapshot
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT "+priceColumns+" FROM fuel_prices WHERE station_id = ? ORDER BY timestamp DESC LIMIT 1",
			stationID)
		if err != nil {
			return fmt.Errorf("error querying latest prices: %w", err)
		}
		defer rows.Close()

		snaps, err = scanSnapshots(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(snaps) == 0 {
		return nil, fmt.Errorf("prices for station %d: %w", stationID, ErrNotFound)
	}
	return &snaps[0], nil
}

// LatestPricesByStation returns the most recent snapshot of every station
// that has one.
func (s *Storage) LatestPricesByStation(ctx context.Context) (map[int64]PriceSnapshot, error) {
	latest := map[int64]PriceSnapshot{}
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT p.id, p.station_id, p.price_e5, p.price_e10, p.price_b7, p.price_sdv, p.timestamp
			FROM fuel_prices p
			JOIN (
				SELECT station_id, MAX(timestamp) AS latest
				FROM fuel_prices
				GROUP BY station_id
			) l ON p.station_id = l.station_id AND p.timestamp = l.latest
		`)
		if err != nil {
			return fmt.Errorf("error querying latest prices: %w", err)
		}
		defer rows.Close()

		snaps, err := scanSnapshots(rows)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			latest[snap.StationID] = snap
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// PriceHistory holds the latest snapshot of a station along with the mean of
// every positive price ever stored for it.
type PriceHistory struct {
	Latest   PriceSnapshot
	Averages map[FuelType]Price
}

// PriceHistory summarises the stored snapshots of a station.
func (s *Storage) PriceHistory(ctx context.Context, stationID int64) (*PriceHistory, error) {
	var snaps []PriceSnapshot
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT "+priceColumns+" FROM fuel_prices WHERE station_id = ? ORDER BY timestamp DESC, id DESC",
			stationID)
		if err != nil {
			return fmt.Errorf("error querying price history: %w", err)
		}
		defer rows.Close()

		snaps, err = scanSnapshots(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(snaps) == 0 {
		return nil, fmt.Errorf("prices for station %d: %w", stationID, ErrNotFound)
	}

	history := &PriceHistory{
		Latest:   snaps[0],
		Averages: make(map[FuelType]Price, len(FuelTypes)),
	}
	for _, fuel := range FuelTypes {
		var values []decimal.Decimal
		for i := range snaps {
			if p := snaps[i].Price(fuel); p.Valid && p.Value > 0 {
				values = append(values, decimal.NewFromFloat(p.Value))
			}
		}
		history.Averages[fuel] = mean(values)
	}

	return history, nil
}

// mean averages values. With nothing to average it reports an unknown price
// rather than zero.
func mean(values []decimal.Decimal) Price {
	if len(values) == 0 {
		return Price{}
	}
	avg := decimal.Avg(values[0], values[1:]...)
	return NewPrice(avg.InexactFloat64())
}

// PriceAverages is the mean positive price per fuel type across all stations
// and snapshots.
type PriceAverages map[FuelType]Price

// AveragePrices averages every positive stored price per fuel type.
func (s *Storage) AveragePrices(ctx context.Context) (PriceAverages, error) {
	var e5, e10, b7, sdv sql.NullFloat64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT
				(SELECT AVG(price_e5) FROM fuel_prices WHERE price_e5 > 0),
				(SELECT AVG(price_e10) FROM fuel_prices WHERE price_e10 > 0),
				(SELECT AVG(price_b7) FROM fuel_prices WHERE price_b7 > 0),
				(SELECT AVG(price_sdv) FROM fuel_prices WHERE price_sdv > 0)
		`).Scan(&e5, &e10, &b7, &sdv)
	})
	if err != nil {
		return nil, fmt.Errorf("error averaging prices: %w", err)
	}

	averages := PriceAverages{
		FuelE5:  priceFromNull(e5),
		FuelE10: priceFromNull(e10),
		FuelB7:  priceFromNull(b7),
		FuelSDV: priceFromNull(sdv),
	}
	for _, p := range averages {
		if p.Valid {
			return averages, nil
		}
	}
	return nil, ErrNoData
}

func scanSnapshots(rows *sql.Rows) ([]PriceSnapshot, error) {
	var snaps []PriceSnapshot
	for rows.Next() {
		var (
			snap             PriceSnapshot
			e5, e10, b7, sdv sql.NullFloat64
			ts               string
		)
		if err := rows.Scan(&snap.ID, &snap.StationID, &e5, &e10, &b7, &sdv, &ts); err != nil {
			return nil, fmt.Errorf("error scanning prices: %w", err)
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		snap.E5 = priceFromNull(e5)
		snap.E10 = priceFromNull(e10)
		snap.B7 = priceFromNull(b7)
		snap.SDV = priceFromNull(sdv)
		snap.Timestamp = parsed
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	return snaps, nil
}

// IsNoData reports whether err means a query had nothing to return.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}
