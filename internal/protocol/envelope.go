// Package protocol defines the framed JSON envelope exchanged over a
// persistent connection and its per-type validation rules.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

type Type string

const (
	TypeDriverOnline   Type = "driverOnline"
	TypeDriverOffline  Type = "driverOffline"
	TypeLocationUpdate Type = "locationUpdate"
	TypeRequestRide    Type = "requestRide"
	TypeRideRequested  Type = "rideRequested"
	TypeAcceptRide     Type = "acceptRide"
	TypeRideAccepted   Type = "rideAccepted"
	TypeStartRide      Type = "startRide"
	TypeRideStarted    Type = "rideStarted"
	TypeCompleteRide   Type = "completeRide"
	TypeRideCompleted  Type = "rideCompleted"
	TypeCancelRide     Type = "cancelRide"
	TypeRideCancelled  Type = "rideCancelled"
	TypeNearbyDrivers  Type = "nearbyDrivers"
	TypeDriverLocation Type = "driverLocation"
	TypeHeartbeat      Type = "heartbeat"
	TypeError          Type = "error"
	TypeConnStatus     Type = "connectionStatus"
)

// Envelope is one typed message. All type-specific fields are optional at the
// JSON layer; Validate enforces what each type actually requires.
type Envelope struct {
	Type      Type        `json:"type"`
	Role      models.Role `json:"role,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`

	DriverID string `json:"driverId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	RideID   string `json:"rideId,omitempty"`

	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Status   string   `json:"status,omitempty"`
	Accuracy float64  `json:"accuracy,omitempty"`
	Heading  float64  `json:"heading,omitempty"`
	Speed    float64  `json:"speed,omitempty"`
	RadiusKm *float64 `json:"radiusKm,omitempty"`

	Pickup  *models.Coord `json:"pickup,omitempty"`
	Dropoff *models.Coord `json:"dropoff,omitempty"`

	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	Drivers  []models.NearbyDriver  `json:"drivers,omitempty"`
	Location *models.DriverLocation `json:"location,omitempty"`
}

// ValidationError reports why an inbound envelope was rejected. It carries
// enough structure to echo back in an error envelope.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// serverOnly lists types the relay emits but never accepts from a client.
var serverOnly = map[Type]bool{
	TypeRideRequested: true,
	TypeRideAccepted:  true,
	TypeRideStarted:   true,
	TypeRideCompleted: true,
	TypeRideCancelled: true,
	TypeError:         true,
	TypeConnStatus:    true,
}

// Decode parses one frame into an Envelope and validates it. A non-nil error
// means the frame must be rejected without any state change.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &ValidationError{Reason: "malformed JSON"}
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the envelope declares a recognized client type and
// carries the fields that type requires.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "missing"}
	}
	if serverOnly[e.Type] {
		return &ValidationError{Field: "type", Reason: "server-originated type not accepted"}
	}
	switch e.Type {
	case TypeDriverOnline:
		if e.DriverID == "" {
			return &ValidationError{Field: "driverId", Reason: "required"}
		}
		return e.requireCoords()
	case TypeDriverOffline:
		if e.DriverID == "" {
			return &ValidationError{Field: "driverId", Reason: "required"}
		}
	case TypeLocationUpdate:
		return e.requireCoords()
	case TypeRequestRide:
		if e.UserID == "" {
			return &ValidationError{Field: "userId", Reason: "required"}
		}
		if e.Pickup == nil {
			return &ValidationError{Field: "pickup", Reason: "required"}
		}
	case TypeAcceptRide, TypeStartRide, TypeCompleteRide:
		if e.RideID == "" {
			return &ValidationError{Field: "rideId", Reason: "required"}
		}
		if e.UserID == "" {
			return &ValidationError{Field: "userId", Reason: "required"}
		}
	case TypeCancelRide:
		if e.RideID == "" {
			return &ValidationError{Field: "rideId", Reason: "required"}
		}
	case TypeNearbyDrivers:
		return e.requireCoords()
	case TypeDriverLocation:
		if e.DriverID == "" {
			return &ValidationError{Field: "driverId", Reason: "required"}
		}
	case TypeHeartbeat:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", e.Type)}
	}
	return nil
}

func (e *Envelope) requireCoords() error {
	if e.Lat == nil {
		return &ValidationError{Field: "lat", Reason: "required"}
	}
	if e.Lon == nil {
		return &ValidationError{Field: "lon", Reason: "required"}
	}
	return nil
}

// Error builds the single error envelope sent back for any rejected action.
func Error(message string, details map[string]any) Envelope {
	return Envelope{
		Type:      TypeError,
		Role:      models.RoleSystem,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   details,
	}
}

// Status builds a connectionStatus envelope acknowledging an action.
func Status(message string, details map[string]any) Envelope {
	return Envelope{
		Type:      TypeConnStatus,
		Role:      models.RoleSystem,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   details,
	}
}

// System stamps an outbound relay envelope of the given type.
func System(t Type) Envelope {
	return Envelope{Type: t, Role: models.RoleSystem, Timestamp: time.Now().UTC()}
}
