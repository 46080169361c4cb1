// Package fueldb stores retailer fuel stations and their price snapshots in
// SQLite and answers the queries served by the API.
package fueldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/patrickmn/go-cache"
)

const (
	defaultCacheExpirationMinutes = 10
	defaultCacheCleanupMinutes    = 30
	defaultBusyTimeoutMs          = 10000
	defaultMaxOpenConns           = 8
	defaultPageSize               = 4096
	defaultCacheSize              = -64 * 1024 // negative value for KiB
)

var (
	// ErrNoData is returned when a query has nothing to report.
	ErrNoData = errors.New("no data available")
	// ErrNotFound is returned when a single row lookup matched nothing.
	ErrNotFound = fmt.Errorf("row not found: %w", ErrNoData)
	// ErrMultipleRows is returned when a single row lookup matched more than
	// one row, which means the store lost an invariant.
	ErrMultipleRows = fmt.Errorf("multiple rows for single row lookup: %w", ErrNoData)
)

type Storage struct {
	db    *sql.DB
	cache *cache.Cache
	log   *slog.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithCacheTTL sets how long query results are cached. Results are always
// dropped when an update stores new prices.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Storage) {
		s.cache = cache.New(ttl, 2*ttl)
	}
}

func NewStorage(ctx context.Context, dbPath string, logger *slog.Logger, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)

	if err := configureSQLitePragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Storage{
		db:    db,
		cache: cache.New(defaultCacheExpirationMinutes*time.Minute, defaultCacheCleanupMinutes*time.Minute),
		log:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// dsn builds the connection string. Pragmas passed here are applied to every
// connection the pool opens.
func dsn(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeoutMs))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(normal)")
	q.Add("_pragma", fmt.Sprintf("cache_size(%d)", defaultCacheSize))
	return "file:" + dbPath + "?" + q.Encode()
}

func createTables(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS fuel_stations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		postcode TEXT NOT NULL DEFAULT '',
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fuel_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		station_id INTEGER NOT NULL REFERENCES fuel_stations(id),
		price_e5 REAL,
		price_e10 REAL,
		price_b7 REAL,
		price_sdv REAL,
		timestamp TEXT NOT NULL,
		UNIQUE(station_id, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_fuel_prices_timestamp ON fuel_prices(timestamp);
	`

	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}
	return nil
}

func configureSQLitePragmas(ctx context.Context, db *sql.DB) error {
	// page_size only takes effect before the database switches to WAL
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA page_size = %d;", defaultPageSize)); err != nil {
		return fmt.Errorf("error setting page size: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("error setting journal mode: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	if s.cache != nil {
		s.cache.Flush()
	}
	return s.db.Close()
}

// withConn runs fn on a connection taken from the pool and returns it to
// the pool before returning.
func (s *Storage) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

// Summary holds the row counts of the store.
type Summary struct {
	Stations int64
	Prices   int64
}

// Summary counts stations and price snapshots.
func (s *Storage) Summary(ctx context.Context) (*Summary, error) {
	var summary Summary
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM fuel_stations),
				(SELECT COUNT(*) FROM fuel_prices)
		`).Scan(&summary.Stations, &summary.Prices)
	})
	if err != nil {
		return nil, fmt.Errorf("error counting rows: %w", err)
	}
	return &summary, nil
}

// dataVersion identifies the store contents. Both tables only grow and use
// AUTOINCREMENT keys, so the highest ids change on every write.
func (s *Storage) dataVersion(ctx context.Context) (string, error) {
	var stations, prices int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT
				(SELECT COALESCE(MAX(id), 0) FROM fuel_stations),
				(SELECT COALESCE(MAX(id), 0) FROM fuel_prices)
		`).Scan(&stations, &prices)
	})
	if err != nil {
		return "", fmt.Errorf("error querying data version: %w", err)
	}
	return fmt.Sprintf("%d.%d", stations, prices), nil
}

// LastUpdate returns the most recent feed timestamp stored, or nil when the
// store has no prices.
func (s *Storage) LastUpdate(ctx context.Context) (*time.Time, error) {
	var ts sql.NullString
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT MAX(timestamp) FROM fuel_prices").Scan(&ts)
	})
	if err != nil {
		return nil, fmt.Errorf("error querying last update: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}

	lastUpdate, err := parseTimestamp(ts.String)
	if err != nil {
		return nil, err
	}
	return &lastUpdate, nil
}
