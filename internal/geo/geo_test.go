package geo

import (
	"math"
	"testing"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Windhoek CBD to Katutura is roughly 6 km.
	d := Haversine(-22.5609, 17.0658, -22.5232, 17.0450)
	if d < 4 || d > 8 {
		t.Fatalf("implausible distance: %f km", d)
	}
}

func TestUpdateReplacesPriorRecord(t *testing.T) {
	r := NewRegistry(50)
	if !r.Update(models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}, Status: models.StatusOnline}) {
		t.Fatal("first update rejected")
	}
	if !r.Update(models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 2, Lon: 2}, Status: models.StatusBusy}) {
		t.Fatal("second update rejected")
	}
	got, ok := r.Get("d1")
	if !ok {
		t.Fatal("record missing")
	}
	if got.Loc.Lat != 2 || got.Loc.Lon != 2 || got.Status != models.StatusBusy {
		t.Fatalf("record not replaced: %+v", got)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 record, got %d", r.Count())
	}
}

func TestUpdateRejectsInvalidCoordinates(t *testing.T) {
	r := NewRegistry(50)
	r.Update(models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 10, Lon: 10}, Status: models.StatusOnline})

	cases := []models.Coord{
		{Lat: 91, Lon: 0},
		{Lat: -91, Lon: 0},
		{Lat: 0, Lon: 181},
		{Lat: 0, Lon: -181},
	}
	for _, c := range cases {
		if r.Update(models.DriverLocation{DriverID: "d1", Loc: c, Status: models.StatusOnline}) {
			t.Fatalf("accepted out-of-range coord %+v", c)
		}
	}
	got, _ := r.Get("d1")
	if got.Loc.Lat != 10 || got.Loc.Lon != 10 {
		t.Fatalf("prior record mutated: %+v", got)
	}
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	r := NewRegistry(50)
	if r.Update(models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 0, Lon: 0}, Status: "parked"}) {
		t.Fatal("accepted unknown status")
	}
}

func TestFindNearbyOrderedAndBounded(t *testing.T) {
	r := NewRegistry(50)
	r.Update(models.DriverLocation{DriverID: "far", Loc: models.Coord{Lat: -22.95, Lon: 18.0}, Status: models.StatusOnline})
	r.Update(models.DriverLocation{DriverID: "near", Loc: models.Coord{Lat: -22.951, Lon: 17.491}, Status: models.StatusOnline})
	r.Update(models.DriverLocation{DriverID: "mid", Loc: models.Coord{Lat: -22.97, Lon: 17.51}, Status: models.StatusOnline})
	r.Update(models.DriverLocation{DriverID: "busy", Loc: models.Coord{Lat: -22.951, Lon: 17.491}, Status: models.StatusBusy})

	got := r.FindNearby(-22.95, 17.49, 10, models.StatusOnline)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "mid" {
		t.Fatalf("wrong order: %s, %s", got[0].DriverID, got[1].DriverID)
	}
	for _, m := range got {
		if m.DistanceKm > 10 {
			t.Fatalf("driver %s outside radius: %f", m.DriverID, m.DistanceKm)
		}
	}
	if got[0].DistanceKm > got[1].DistanceKm {
		t.Fatal("distances not ascending")
	}
}

func TestFindNearbyClampsRadius(t *testing.T) {
	r := NewRegistry(5)
	r.Update(models.DriverLocation{DriverID: "d1", Loc: models.Coord{Lat: 0, Lon: 0.1}, Status: models.StatusOnline})
	// ~11 km away; a 1000 km request must be clamped to the 5 km maximum.
	if got := r.FindNearby(0, 0, 1000, ""); len(got) != 0 {
		t.Fatalf("radius not clamped, got %d matches", len(got))
	}
}

func TestEvictStaleRemovesOnlyOldRecords(t *testing.T) {
	r := NewRegistry(50)
	r.Update(models.DriverLocation{DriverID: "old", Loc: models.Coord{Lat: 0, Lon: 0}, Status: models.StatusOnline})
	r.mu.Lock()
	d := r.drivers["old"]
	d.Updated = time.Now().Add(-time.Hour)
	r.drivers["old"] = d
	r.mu.Unlock()
	r.Update(models.DriverLocation{DriverID: "fresh", Loc: models.Coord{Lat: 0, Lon: 0}, Status: models.StatusOnline})

	if n := r.EvictStale(10 * time.Minute); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Fatal("stale record survived")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatal("fresh record evicted")
	}
}

func TestRoundKm(t *testing.T) {
	if got := RoundKm(1.2345); math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("got %f", got)
	}
	if got := RoundKm(1.25); math.Abs(got-1.3) > 1e-9 {
		t.Fatalf("got %f", got)
	}
}
