// Package router validates inbound envelopes and executes the handler for
// each message type, coordinating the connection registry, the location
// registry and the backend bridge.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/bridge"
	"github.com/BritoCeo/londa-rides-relay/internal/geo"
	"github.com/BritoCeo/londa-rides-relay/internal/journal"
	"github.com/BritoCeo/londa-rides-relay/internal/models"
	"github.com/BritoCeo/londa-rides-relay/internal/observability"
	"github.com/BritoCeo/londa-rides-relay/internal/protocol"
	"github.com/BritoCeo/londa-rides-relay/internal/registry"
)

// Mirror is the optional live-state mirror consumed by the router.
type Mirror interface {
	Publish(loc models.DriverLocation)
	Remove(driverID string)
}

type Config struct {
	DefaultRadiusKm float64
	DispatchFanout  int
	BackendTimeout  time.Duration
}

type Router struct {
	conns   *registry.Registry
	geo     *geo.Registry
	backend bridge.Backend
	mirror  Mirror
	journal journal.Journal
	logger  *slog.Logger
	cfg     Config
}

// New wires the router. mirror and jrnl may be nil.
func New(conns *registry.Registry, locs *geo.Registry, backend bridge.Backend, mirror Mirror, jrnl journal.Journal, logger *slog.Logger, cfg Config) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DispatchFanout <= 0 {
		cfg.DispatchFanout = 10
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 10 * time.Second
	}
	return &Router{conns: conns, geo: locs, backend: backend, mirror: mirror, journal: jrnl, logger: logger, cfg: cfg}
}

// HandleFrame processes one inbound frame from the given connection. All
// rejection paths send a single error envelope and mutate nothing.
func (r *Router) HandleFrame(connID string, raw []byte) {
	r.conns.Touch(connID)

	env, err := protocol.Decode(raw)
	if err != nil {
		observability.EnvelopesRejected.Inc()
		r.conns.SendTo(connID, protocol.Error("invalid envelope: "+err.Error(), nil))
		return
	}
	observability.EnvelopesReceived.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeDriverOnline:
		r.handleDriverOnline(connID, env)
	case protocol.TypeDriverOffline:
		r.handleDriverOffline(connID, env)
	case protocol.TypeLocationUpdate:
		r.handleLocationUpdate(connID, env)
	case protocol.TypeRequestRide:
		r.handleRequestRide(connID, env)
	case protocol.TypeAcceptRide:
		r.handleAcceptRide(connID, env)
	case protocol.TypeStartRide:
		r.handleRideRelay(connID, env, models.RideStarted, protocol.TypeRideStarted)
	case protocol.TypeCompleteRide:
		r.handleCompleteRide(connID, env)
	case protocol.TypeCancelRide:
		r.handleCancelRide(connID, env)
	case protocol.TypeHeartbeat:
		r.handleHeartbeat(connID)
	case protocol.TypeNearbyDrivers:
		r.handleNearbyQuery(connID, env)
	case protocol.TypeDriverLocation:
		r.handleLocationQuery(connID, env)
	}
}

// HandleClose is the single cleanup path for transport teardown. Both
// graceful close and read errors funnel here; it is idempotent.
func (r *Router) HandleClose(connID string) {
	if c, ok := r.conns.Get(connID); ok {
		r.logger.Info("connection closed", "conn_id", connID, "role", c.Role, "domain_id", c.DomainID)
	}
	r.conns.Remove(connID)
	r.syncConnGauges()
}

// reject sends the single error envelope for a failed action.
func (r *Router) reject(connID, message string, details map[string]any) {
	r.conns.SendTo(connID, protocol.Error(message, details))
}

// requireDriver resolves the sender as a bound driver connection, rejecting
// otherwise.
func (r *Router) requireDriver(connID string) (*registry.Connection, bool) {
	c, ok := r.conns.Get(connID)
	if !ok || c.Role != models.RoleDriver || c.DomainID == "" {
		r.reject(connID, "connection is not an online driver", nil)
		return nil, false
	}
	return c, true
}

func (r *Router) backendCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.BackendTimeout)
}

// record appends the event to the journal and tells the backend, both
// best-effort. Used for transitions whose success does not depend on the
// backend answering.
func (r *Router) record(ev models.RideEvent) {
	observability.RideEventsRelayed.WithLabelValues(string(ev.Kind)).Inc()
	if r.journal != nil {
		jr := r.journal
		bridge.BestEffort(r.logger, "journal_append", r.cfg.BackendTimeout, func(ctx context.Context) error {
			return jr.Append(ctx, ev)
		})
	}
}

func (r *Router) syncConnGauges() {
	observability.ConnectionsActive.WithLabelValues(string(models.RoleDriver)).Set(float64(r.conns.CountByRole(models.RoleDriver)))
	observability.ConnectionsActive.WithLabelValues(string(models.RoleUser)).Set(float64(r.conns.CountByRole(models.RoleUser)))
	observability.ConnectionsActive.WithLabelValues(string(models.RoleUnassigned)).Set(float64(r.conns.CountByRole(models.RoleUnassigned)))
}
