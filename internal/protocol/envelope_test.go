package protocol

import (
	"errors"
	"testing"
)

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"role":"driver"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestServerOnlyTypesRejectedInbound(t *testing.T) {
	for _, typ := range []string{"rideAccepted", "rideRequested", "error", "connectionStatus"} {
		if _, err := Decode([]byte(`{"type":"` + typ + `"}`)); err == nil {
			t.Fatalf("server-only type %s accepted inbound", typ)
		}
	}
}

func TestRequiredFieldsPerType(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		valid bool
	}{
		{"driverOnline complete", `{"type":"driverOnline","role":"driver","driverId":"d1","lat":-22.95,"lon":17.49}`, true},
		{"driverOnline no driverId", `{"type":"driverOnline","lat":1,"lon":2}`, false},
		{"driverOnline no lat", `{"type":"driverOnline","driverId":"d1","lon":2}`, false},
		{"driverOnline lat zero ok", `{"type":"driverOnline","driverId":"d1","lat":0,"lon":0}`, true},
		{"locationUpdate complete", `{"type":"locationUpdate","lat":1,"lon":2}`, true},
		{"locationUpdate no lon", `{"type":"locationUpdate","lat":1}`, false},
		{"requestRide complete", `{"type":"requestRide","role":"user","userId":"u1","pickup":{"lat":1,"lon":2}}`, true},
		{"requestRide no pickup", `{"type":"requestRide","userId":"u1"}`, false},
		{"requestRide no userId", `{"type":"requestRide","pickup":{"lat":1,"lon":2}}`, false},
		{"acceptRide complete", `{"type":"acceptRide","rideId":"r1","userId":"u1"}`, true},
		{"acceptRide no rideId", `{"type":"acceptRide","userId":"u1"}`, false},
		{"acceptRide no userId", `{"type":"acceptRide","rideId":"r1"}`, false},
		{"cancelRide rideId only", `{"type":"cancelRide","rideId":"r1"}`, true},
		{"cancelRide empty", `{"type":"cancelRide"}`, false},
		{"heartbeat", `{"type":"heartbeat"}`, true},
		{"nearbyDrivers complete", `{"type":"nearbyDrivers","lat":1,"lon":2}`, true},
		{"driverLocation complete", `{"type":"driverLocation","driverId":"d1"}`, true},
		{"driverLocation empty", `{"type":"driverLocation"}`, false},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.frame))
		if tc.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
