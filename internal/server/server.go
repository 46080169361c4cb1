// Package server exposes the fuel price store over a read-only JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/httprate"

	"github.com/rubiojr/ukfueldb/internal/fueldb"
	"github.com/rubiojr/ukfueldb/internal/geo"
)

const (
	DefaultRadius = 5.0 // km

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options tunes the API. A zero RateLimit disables per-IP limiting and a nil
// Geocoder disables the location parameter of the nearest search.
type Options struct {
	RateLimit int
	MPG       float64
	Geocoder  geo.Geocoder
}

// Server bundles the router and its dependencies.
type Server struct {
	storage *fueldb.Storage
	fetcher fueldb.FeedFetcher
	logger  *httplog.Logger
	opts    Options
	router  chi.Router
}

// New builds a server. Price endpoints run an ingestion through fetcher
// before answering.
func New(storage *fueldb.Storage, fetcher fueldb.FeedFetcher, logger *httplog.Logger, opts Options) *Server {
	if opts.MPG <= 0 {
		opts.MPG = geo.DefaultMPG
	}
	s := &Server{
		storage: storage,
		fetcher: fetcher,
		logger:  logger,
		opts:    opts,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("Starting server", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(s.logger, []string{"/healthz"}))
	r.Use(middleware.Recoverer)
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
	}
	r.Use(allowAllOrigins)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stations", s.handleStations)
	r.Get("/stations/nearest", s.handleNearest)
	r.Get("/station/{id}", s.handleStation)
	r.Get("/prices", s.handlePrices)
	r.Get("/prices/average", s.handleAveragePrices)
	r.Get("/price/{id}", s.handlePrice)
	r.Get("/database", s.handleDatabase)

	return r
}

func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
