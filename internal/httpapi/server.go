// Package httpapi exposes the relay's two listener surfaces: the persistent
// WebSocket endpoint and the query-style HTTP endpoints consumed by the
// backend and operational tooling.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BritoCeo/londa-rides-relay/internal/bridge"
	"github.com/BritoCeo/londa-rides-relay/internal/geo"
	"github.com/BritoCeo/londa-rides-relay/internal/registry"
	"github.com/BritoCeo/londa-rides-relay/internal/router"
)

type Server struct {
	conns   *registry.Registry
	geo     *geo.Registry
	backend bridge.Backend
	breaker *bridge.Breaker
	router  *router.Router
	logger  *slog.Logger

	defaultRadiusKm float64
	started         time.Time

	query *mux.Router
	ws    *mux.Router
}

func NewServer(conns *registry.Registry, locs *geo.Registry, backend bridge.Backend, breaker *bridge.Breaker, rt *router.Router, logger *slog.Logger, defaultRadiusKm float64) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		conns:           conns,
		geo:             locs,
		backend:         backend,
		breaker:         breaker,
		router:          rt,
		logger:          logger,
		defaultRadiusKm: defaultRadiusKm,
		started:         time.Now(),
		query:           mux.NewRouter(),
		ws:              mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.query.Use(s.recoverMiddleware, s.requestIDMiddleware, s.observabilityMiddleware)
	s.query.HandleFunc("/nearby-drivers", s.handleNearbyDrivers).Methods("GET")
	s.query.HandleFunc("/driver/{driverId}/location", s.handleDriverLocation).Methods("GET")
	s.query.HandleFunc("/drivers/locations", s.handleAllLocations).Methods("GET")
	s.query.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.query.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.query.Handle("/metrics", promhttp.Handler())

	s.ws.Use(s.recoverMiddleware)
	s.ws.HandleFunc("/ws", s.handleWS)
}

// QueryHandler serves the query-style HTTP surface.
func (s *Server) QueryHandler() *mux.Router { return s.query }

// WSHandler serves the persistent connection listener.
func (s *Server) WSHandler() *mux.Router { return s.ws }
