package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ValidCoord reports whether lat/lon are inside the WGS84 ranges.
func ValidCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DriverStatus is the live availability of a driver as tracked by the relay.
type DriverStatus string

const (
	StatusOnline  DriverStatus = "online"
	StatusBusy    DriverStatus = "busy"
	StatusOffline DriverStatus = "offline"
)

func ValidStatus(s DriverStatus) bool {
	switch s {
	case StatusOnline, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// DriverLocation is the latest known physical state of one driver.
// One record per driver id; updates replace, never append.
type DriverLocation struct {
	DriverID string       `json:"driver_id"`
	Loc      Coord        `json:"loc"`
	Status   DriverStatus `json:"status"`
	Accuracy float64      `json:"accuracy,omitempty"`
	Heading  float64      `json:"heading,omitempty"`
	Speed    float64      `json:"speed,omitempty"`
	Updated  time.Time    `json:"updated"`
}

// NearbyDriver is a DriverLocation plus its distance from a query origin.
// DistanceKm carries full precision; presentation rounding happens at the edge.
type NearbyDriver struct {
	DriverLocation
	DistanceKm float64 `json:"distance_km"`
}

// Role identifies which side of a ride a connection speaks for.
type Role string

const (
	RoleDriver     Role = "driver"
	RoleUser       Role = "user"
	RoleSystem     Role = "system"
	RoleUnassigned Role = "unassigned"
)

// RideEventKind is a ride lifecycle transition relayed to the backend.
type RideEventKind string

const (
	RideAccepted  RideEventKind = "accepted"
	RideStarted   RideEventKind = "started"
	RideCompleted RideEventKind = "completed"
	RideCancelled RideEventKind = "cancelled"
)

// RideEvent is one relayed lifecycle transition, as recorded by the journal
// and reported to the backend. The backend owns the ride itself.
type RideEvent struct {
	RideID     string        `json:"ride_id"`
	Kind       RideEventKind `json:"kind"`
	DriverID   string        `json:"driver_id,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// RideDetails is the backend's view of a ride, fetched on demand.
type RideDetails struct {
	RideID   string `json:"ride_id"`
	UserID   string `json:"user_id"`
	DriverID string `json:"driver_id,omitempty"`
	Status   string `json:"status"`
	Pickup   Coord  `json:"pickup"`
	Dropoff  Coord  `json:"dropoff"`
}
