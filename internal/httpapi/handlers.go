package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/BritoCeo/londa-rides-relay/internal/geo"
	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// GET /nearby-drivers?lat=&lon=&radius=&status=
func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	if !models.ValidCoord(lat, lon) {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	radius := s.defaultRadiusKm
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius")
			return
		}
	}
	status := models.DriverStatus(r.URL.Query().Get("status"))
	if status != "" && !models.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	matches := s.geo.FindNearby(lat, lon, radius, status)
	for i := range matches {
		matches[i].DistanceKm = geo.RoundKm(matches[i].DistanceKm)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"drivers":      matches,
		"count":        len(matches),
		"searchRadius": radius,
	})
}

// GET /driver/{driverId}/location
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driverId"]
	loc, ok := s.geo.Get(driverID)
	if !ok {
		writeError(w, http.StatusNotFound, "driver not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "location": loc})
}

// GET /drivers/locations?status=
func (s *Server) handleAllLocations(w http.ResponseWriter, r *http.Request) {
	status := models.DriverStatus(r.URL.Query().Get("status"))
	if status != "" && !models.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	locs := s.geo.All(status)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "locations": locs, "count": len(locs)})
}

func (s *Server) healthSnapshot() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"breaker": s.breaker.State().String(),
		"connections": map[string]any{
			"total":   s.conns.Count(),
			"drivers": s.conns.CountByRole(models.RoleDriver),
			"users":   s.conns.CountByRole(models.RoleUser),
		},
		"driversTracked": s.geo.Count(),
		"memory": map[string]any{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// GET /health — local liveness only, no backend call.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthSnapshot())
}

// GET /status — health plus a live backend probe.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.healthSnapshot()
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.backend.HealthCheck(ctx); err != nil {
		snap["backend"] = map[string]any{"reachable": false, "error": err.Error()}
	} else {
		snap["backend"] = map[string]any{"reachable": true}
	}
	writeJSON(w, http.StatusOK, snap)
}
