package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/example/commute-pool/internal/models"
)

func events(driverID string) []models.RideEvent {
	base := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	rideID := "ride-" + driverID
	return []models.RideEvent{
		{Type: models.EventRideCreated, RideID: rideID, DriverID: driverID, Version: 1, WaypointOrder: []int{0, 1}, At: base},
		{Type: models.EventRiderAdded, RideID: rideID, DriverID: driverID, RiderID: "r1", RiderIDs: []string{"r1"},
			Version: 2, WaypointOrder: []int{0, 1, 2}, DurationMin: 30, DetourMin: 10, At: base.Add(time.Minute)},
		{Type: models.EventRiderRemoved, RideID: rideID, DriverID: driverID, RiderID: "r1", RiderIDs: []string{},
			Version: 3, WaypointOrder: []int{0, 1}, At: base.Add(2 * time.Minute)},
	}
}

func exerciseStore(t *testing.T, s EventStore, driverID string) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events(driverID) {
		if err := s.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	// replayed delivery
	if err := s.SaveEvent(ctx, events(driverID)[1]); err != nil {
		t.Fatalf("save duplicate: %v", err)
	}

	got, err := s.History(ctx, driverID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Type != models.EventRiderRemoved || got[2].Type != models.EventRideCreated {
		t.Fatalf("expected newest first, got %v, %v", got[0].Type, got[2].Type)
	}
	if got[1].RiderID != "r1" || len(got[1].WaypointOrder) != 3 || got[1].DetourMin != 10 {
		t.Fatalf("event fields lost: %+v", got[1])
	}

	got, _ = s.History(ctx, driverID, 2)
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}
	got, _ = s.History(ctx, "someone-else-"+driverID, 0)
	if len(got) != 0 {
		t.Fatalf("expected no events for unknown driver")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "d1")
}

// Runs against a real database when PG_TEST_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	driverID := "pgtest-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM ride_events WHERE driver_id = $1`, driverID)
	})
	exerciseStore(t, s, driverID)
}
