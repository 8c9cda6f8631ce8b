// Package geo maintains the latest known position of each driver and answers
// proximity queries with haversine distance.
package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

// Registry holds one current DriverLocation per driver id. All methods are
// safe for concurrent use; read-modify-write sequences hold the lock for the
// whole operation.
type Registry struct {
	mu          sync.RWMutex
	drivers     map[string]models.DriverLocation
	maxRadiusKm float64
}

func NewRegistry(maxRadiusKm float64) *Registry {
	return &Registry{drivers: make(map[string]models.DriverLocation), maxRadiusKm: maxRadiusKm}
}

// Update replaces the driver's record with the given state. Returns false
// without mutation when coordinates are out of range or the status is unknown.
func (r *Registry) Update(loc models.DriverLocation) bool {
	if !models.ValidCoord(loc.Loc.Lat, loc.Loc.Lon) {
		return false
	}
	if loc.Status == "" {
		loc.Status = models.StatusOnline
	}
	if !models.ValidStatus(loc.Status) {
		return false
	}
	loc.Updated = time.Now()
	r.mu.Lock()
	r.drivers[loc.DriverID] = loc
	r.mu.Unlock()
	return true
}

func (r *Registry) Remove(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[driverID]; !ok {
		return false
	}
	delete(r.drivers, driverID)
	return true
}

func (r *Registry) Get(driverID string) (models.DriverLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[driverID]
	return d, ok
}

// All returns every stored location, optionally filtered by status.
func (r *Registry) All(status models.DriverStatus) []models.DriverLocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DriverLocation, 0, len(r.drivers))
	for _, d := range r.drivers {
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// FindNearby scans every stored location, filters by radius (clamped to the
// configured maximum) and optional status, and returns matches ordered
// ascending by distance. The result is recomputed fresh on every call.
func (r *Registry) FindNearby(lat, lon, radiusKm float64, status models.DriverStatus) []models.NearbyDriver {
	if radiusKm <= 0 || radiusKm > r.maxRadiusKm {
		radiusKm = r.maxRadiusKm
	}
	r.mu.RLock()
	out := make([]models.NearbyDriver, 0, len(r.drivers))
	for _, d := range r.drivers {
		if status != "" && d.Status != status {
			continue
		}
		dist := Haversine(lat, lon, d.Loc.Lat, d.Loc.Lon)
		if dist > radiusKm {
			continue
		}
		out = append(out, models.NearbyDriver{DriverLocation: d, DistanceKm: dist})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// EvictStale removes every record not updated within timeout and returns the
// number removed.
func (r *Registry) EvictStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, d := range r.drivers {
		if d.Updated.Before(cutoff) {
			delete(r.drivers, id)
			n++
		}
	}
	return n
}

// Haversine returns the great-circle distance in kilometres on a mean Earth
// radius of 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// RoundKm rounds a distance to one decimal place for presentation.
func RoundKm(d float64) float64 {
	return math.Round(d*10) / 10
}
