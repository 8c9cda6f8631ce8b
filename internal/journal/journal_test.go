package journal

import (
	"context"
	"testing"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
)

func TestMemoryAppendsInOrder(t *testing.T) {
	m := NewMemory()
	events := []models.RideEvent{
		{RideID: "r1", Kind: models.RideAccepted, DriverID: "d1", OccurredAt: time.Now()},
		{RideID: "r1", Kind: models.RideStarted, DriverID: "d1", OccurredAt: time.Now()},
		{RideID: "r1", Kind: models.RideCompleted, DriverID: "d1", OccurredAt: time.Now()},
	}
	for _, ev := range events {
		if err := m.Append(context.Background(), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got := m.Events()
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Kind != events[i].Kind {
			t.Fatalf("order broken at %d: %s", i, ev.Kind)
		}
	}
}

func TestMemoryEventsReturnsCopy(t *testing.T) {
	m := NewMemory()
	_ = m.Append(context.Background(), models.RideEvent{RideID: "r1", Kind: models.RideAccepted})
	got := m.Events()
	got[0].RideID = "mutated"
	if m.Events()[0].RideID != "r1" {
		t.Fatal("Events exposed internal slice")
	}
}
