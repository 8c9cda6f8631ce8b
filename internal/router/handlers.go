package router

import (
	"context"
	"errors"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/bridge"
	"github.com/BritoCeo/londa-rides-relay/internal/geo"
	"github.com/BritoCeo/londa-rides-relay/internal/models"
	"github.com/BritoCeo/londa-rides-relay/internal/observability"
	"github.com/BritoCeo/londa-rides-relay/internal/protocol"
)

// handleDriverOnline validates the driver against the backend before binding
// the connection. Coordinates are checked locally first so an obviously bad
// payload never costs a backend call.
func (r *Router) handleDriverOnline(connID string, env protocol.Envelope) {
	if !models.ValidCoord(*env.Lat, *env.Lon) {
		r.reject(connID, "coordinates out of range", map[string]any{"lat": *env.Lat, "lon": *env.Lon})
		return
	}
	if c, ok := r.conns.Get(connID); ok && c.Role != models.RoleUnassigned && (c.Role != models.RoleDriver || c.DomainID != env.DriverID) {
		r.reject(connID, "connection already bound to another identity", map[string]any{"driverId": env.DriverID})
		return
	}

	ctx, cancel := r.backendCtx()
	defer cancel()
	if err := r.backend.ValidateDriver(ctx, env.DriverID); err != nil {
		if bridge.IsRejection(err) {
			r.reject(connID, "driver validation failed", map[string]any{"driverId": env.DriverID})
		} else if errors.Is(err, bridge.ErrCircuitOpen) {
			r.reject(connID, "backend unavailable, try again later", nil)
		} else {
			r.logger.Warn("driver validation errored", "driver_id", env.DriverID, "error", err)
			r.reject(connID, "driver validation unavailable", nil)
		}
		return
	}

	superseded, ok := r.conns.Bind(connID, models.RoleDriver, env.DriverID)
	if !ok {
		r.reject(connID, "driver capacity reached", nil)
		return
	}
	if superseded != nil {
		_ = superseded.Send(protocol.Status("connection superseded by a newer session", map[string]any{"reason": "superseded"}))
		_ = superseded.Close()
		r.logger.Info("superseded prior driver connection", "driver_id", env.DriverID, "old_conn_id", superseded.ID)
	}

	loc := models.DriverLocation{
		DriverID: env.DriverID,
		Loc:      models.Coord{Lat: *env.Lat, Lon: *env.Lon},
		Status:   models.StatusOnline,
		Accuracy: env.Accuracy,
		Heading:  env.Heading,
		Speed:    env.Speed,
	}
	r.geo.Update(loc)
	r.mirrorPublish(loc)
	r.bestEffortStatus(env.DriverID, models.StatusOnline, &loc.Loc)

	r.conns.SendTo(connID, protocol.Status("driver online", map[string]any{"driverId": env.DriverID}))
	r.syncConnGauges()
	observability.DriversTracked.Set(float64(r.geo.Count()))
}

func (r *Router) handleDriverOffline(connID string, env protocol.Envelope) {
	c, ok := r.requireDriver(connID)
	if !ok {
		return
	}
	driverID := c.DomainID
	if env.DriverID != driverID {
		r.reject(connID, "driverId does not match this connection", map[string]any{"driverId": env.DriverID})
		return
	}

	r.geo.Remove(driverID)
	if r.mirror != nil {
		r.mirror.Remove(driverID)
	}
	r.bestEffortStatus(driverID, models.StatusOffline, nil)

	r.conns.SendTo(connID, protocol.Status("driver offline", map[string]any{"driverId": driverID}))
	r.conns.Remove(connID)
	_ = c.Close()
	r.syncConnGauges()
	observability.DriversTracked.Set(float64(r.geo.Count()))
}

func (r *Router) handleLocationUpdate(connID string, env protocol.Envelope) {
	c, ok := r.requireDriver(connID)
	if !ok {
		return
	}

	status := models.DriverStatus(env.Status)
	if status == "" {
		if cur, exists := r.geo.Get(c.DomainID); exists {
			status = cur.Status
		} else {
			status = models.StatusOnline
		}
	}
	loc := models.DriverLocation{
		DriverID: c.DomainID,
		Loc:      models.Coord{Lat: *env.Lat, Lon: *env.Lon},
		Status:   status,
		Accuracy: env.Accuracy,
		Heading:  env.Heading,
		Speed:    env.Speed,
	}
	if !r.geo.Update(loc) {
		r.reject(connID, "invalid location update", map[string]any{"lat": *env.Lat, "lon": *env.Lon, "status": env.Status})
		return
	}
	r.mirrorPublish(loc)
	syncLoc := loc
	bridge.BestEffort(r.logger, "sync_driver_location", r.cfg.BackendTimeout, func(ctx context.Context) error {
		return r.backend.SyncDriverLocation(ctx, syncLoc)
	})

	r.conns.SendTo(connID, protocol.Status("location updated", nil))
	observability.DriversTracked.Set(float64(r.geo.Count()))
}

// handleRequestRide fans the request out to the closest online drivers and
// acknowledges the rider with the count notified. Zero nearby drivers is an
// acknowledgement, not an error.
func (r *Router) handleRequestRide(connID string, env protocol.Envelope) {
	c, ok := r.conns.Get(connID)
	if !ok {
		return
	}
	if c.Role == models.RoleUnassigned {
		superseded, bound := r.conns.Bind(connID, models.RoleUser, env.UserID)
		if !bound {
			r.reject(connID, "rider capacity reached", nil)
			return
		}
		if superseded != nil {
			_ = superseded.Send(protocol.Status("connection superseded by a newer session", map[string]any{"reason": "superseded"}))
			_ = superseded.Close()
		}
		r.syncConnGauges()
	} else if c.Role != models.RoleUser {
		r.reject(connID, "only riders may request rides", nil)
		return
	}

	if !models.ValidCoord(env.Pickup.Lat, env.Pickup.Lon) {
		r.reject(connID, "pickup coordinates out of range", nil)
		return
	}
	radius := r.cfg.DefaultRadiusKm
	if env.RadiusKm != nil && *env.RadiusKm > 0 {
		radius = *env.RadiusKm
	}

	matches := r.geo.FindNearby(env.Pickup.Lat, env.Pickup.Lon, radius, models.StatusOnline)
	if len(matches) > r.cfg.DispatchFanout {
		matches = matches[:r.cfg.DispatchFanout]
	}

	offer := protocol.System(protocol.TypeRideRequested)
	offer.RideID = env.RideID
	offer.UserID = env.UserID
	offer.Pickup = env.Pickup
	offer.Dropoff = env.Dropoff

	notified := 0
	for _, m := range matches {
		target, online := r.conns.GetByRole(models.RoleDriver, m.DriverID)
		if !online {
			continue
		}
		out := offer
		out.DriverID = m.DriverID
		if r.conns.SendTo(target.ID, out) {
			notified++
		}
	}

	r.logger.Info("ride request dispatched", "ride_id", env.RideID, "user_id", env.UserID, "candidates", len(matches), "notified", notified)
	r.conns.SendTo(connID, protocol.Status("ride request dispatched", map[string]any{"notifiedDrivers": notified, "searchRadiusKm": radius}))
}

// handleAcceptRide treats acceptance as a backend-confirmed compare-and-swap:
// no success is reported to the driver until the backend confirms the
// pending -> accepted transition, and a losing driver gets a rejection.
func (r *Router) handleAcceptRide(connID string, env protocol.Envelope) {
	c, ok := r.requireDriver(connID)
	if !ok {
		return
	}
	ev := models.RideEvent{
		RideID:     env.RideID,
		Kind:       models.RideAccepted,
		DriverID:   c.DomainID,
		UserID:     env.UserID,
		OccurredAt: time.Now().UTC(),
	}

	ctx, cancel := r.backendCtx()
	defer cancel()
	if err := r.backend.NotifyRideEvent(ctx, ev); err != nil {
		if bridge.IsRejection(err) {
			r.reject(connID, "ride no longer available", map[string]any{"rideId": env.RideID})
		} else {
			r.reject(connID, "could not confirm acceptance, backend unavailable", map[string]any{"rideId": env.RideID})
		}
		return
	}

	if cur, exists := r.geo.Get(c.DomainID); exists {
		cur.Status = models.StatusBusy
		r.geo.Update(cur)
		r.mirrorPublish(cur)
	}

	notice := protocol.System(protocol.TypeRideAccepted)
	notice.RideID = env.RideID
	notice.DriverID = c.DomainID
	notice.UserID = env.UserID
	if rider, online := r.conns.GetByRole(models.RoleUser, env.UserID); online {
		r.conns.SendTo(rider.ID, notice)
	}

	r.record(ev)
	r.conns.SendTo(connID, protocol.Status("ride accepted", map[string]any{"rideId": env.RideID}))
}

// handleRideRelay covers transitions that the relay forwards without waiting
// on the backend: the counterpart is notified, the backend is told
// best-effort, and the sender gets an ack.
func (r *Router) handleRideRelay(connID string, env protocol.Envelope, kind models.RideEventKind, noticeType protocol.Type) {
	c, ok := r.requireDriver(connID)
	if !ok {
		return
	}
	ev := models.RideEvent{
		RideID:     env.RideID,
		Kind:       kind,
		DriverID:   c.DomainID,
		UserID:     env.UserID,
		OccurredAt: time.Now().UTC(),
	}
	bridge.BestEffort(r.logger, "notify_ride_event", r.cfg.BackendTimeout, func(ctx context.Context) error {
		return r.backend.NotifyRideEvent(ctx, ev)
	})

	notice := protocol.System(noticeType)
	notice.RideID = env.RideID
	notice.DriverID = c.DomainID
	notice.UserID = env.UserID
	if rider, online := r.conns.GetByRole(models.RoleUser, env.UserID); online {
		r.conns.SendTo(rider.ID, notice)
	}

	r.record(ev)
	r.conns.SendTo(connID, protocol.Status(string(kind), map[string]any{"rideId": env.RideID}))
}

func (r *Router) handleCompleteRide(connID string, env protocol.Envelope) {
	r.handleRideRelay(connID, env, models.RideCompleted, protocol.TypeRideCompleted)
	if c, ok := r.conns.Get(connID); ok && c.Role == models.RoleDriver {
		if cur, exists := r.geo.Get(c.DomainID); exists {
			cur.Status = models.StatusOnline
			r.geo.Update(cur)
			r.mirrorPublish(cur)
		}
	}
}

// handleCancelRide accepts cancellation from either side and relays it to
// whichever counterpart the payload names.
func (r *Router) handleCancelRide(connID string, env protocol.Envelope) {
	c, ok := r.conns.Get(connID)
	if !ok {
		return
	}
	if c.Role != models.RoleDriver && c.Role != models.RoleUser {
		r.reject(connID, "connection is not bound to a ride party", nil)
		return
	}

	ev := models.RideEvent{
		RideID:     env.RideID,
		Kind:       models.RideCancelled,
		DriverID:   env.DriverID,
		UserID:     env.UserID,
		Reason:     env.Message,
		OccurredAt: time.Now().UTC(),
	}
	if c.Role == models.RoleDriver {
		ev.DriverID = c.DomainID
	} else {
		ev.UserID = c.DomainID
	}
	bridge.BestEffort(r.logger, "notify_ride_event", r.cfg.BackendTimeout, func(ctx context.Context) error {
		return r.backend.NotifyRideEvent(ctx, ev)
	})

	notice := protocol.System(protocol.TypeRideCancelled)
	notice.RideID = env.RideID
	notice.DriverID = ev.DriverID
	notice.UserID = ev.UserID
	notice.Message = env.Message
	if c.Role == models.RoleDriver && ev.UserID != "" {
		if rider, online := r.conns.GetByRole(models.RoleUser, ev.UserID); online {
			r.conns.SendTo(rider.ID, notice)
		}
	} else if c.Role == models.RoleUser && ev.DriverID != "" {
		if drv, online := r.conns.GetByRole(models.RoleDriver, ev.DriverID); online {
			r.conns.SendTo(drv.ID, notice)
		}
	}

	// A cancelling driver becomes available again.
	if c.Role == models.RoleDriver {
		if cur, exists := r.geo.Get(c.DomainID); exists {
			cur.Status = models.StatusOnline
			r.geo.Update(cur)
			r.mirrorPublish(cur)
		}
	}

	r.record(ev)
	r.conns.SendTo(connID, protocol.Status("ride cancelled", map[string]any{"rideId": env.RideID}))
}

func (r *Router) handleHeartbeat(connID string) {
	r.conns.SendTo(connID, protocol.System(protocol.TypeHeartbeat))
}

func (r *Router) handleNearbyQuery(connID string, env protocol.Envelope) {
	if !models.ValidCoord(*env.Lat, *env.Lon) {
		r.reject(connID, "coordinates out of range", map[string]any{"lat": *env.Lat, "lon": *env.Lon})
		return
	}
	status := models.DriverStatus(env.Status)
	if status != "" && !models.ValidStatus(status) {
		r.reject(connID, "invalid status filter", map[string]any{"status": env.Status})
		return
	}
	radius := r.cfg.DefaultRadiusKm
	if env.RadiusKm != nil && *env.RadiusKm > 0 {
		radius = *env.RadiusKm
	}
	matches := r.geo.FindNearby(*env.Lat, *env.Lon, radius, status)
	for i := range matches {
		matches[i].DistanceKm = geo.RoundKm(matches[i].DistanceKm)
	}
	reply := protocol.System(protocol.TypeNearbyDrivers)
	reply.Drivers = matches
	reply.Details = map[string]any{"count": len(matches), "searchRadiusKm": radius}
	r.conns.SendTo(connID, reply)
}

func (r *Router) handleLocationQuery(connID string, env protocol.Envelope) {
	loc, ok := r.geo.Get(env.DriverID)
	if !ok {
		r.reject(connID, "driver not found", map[string]any{"driverId": env.DriverID})
		return
	}
	reply := protocol.System(protocol.TypeDriverLocation)
	reply.DriverID = env.DriverID
	reply.Location = &loc
	r.conns.SendTo(connID, reply)
}

func (r *Router) mirrorPublish(loc models.DriverLocation) {
	if r.mirror != nil {
		r.mirror.Publish(loc)
	}
}

func (r *Router) bestEffortStatus(driverID string, status models.DriverStatus, loc *models.Coord) {
	bridge.BestEffort(r.logger, "update_driver_status", r.cfg.BackendTimeout, func(ctx context.Context) error {
		return r.backend.UpdateDriverStatus(ctx, driverID, status, loc)
	})
}
