package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"transit-tracker/internal/tracker"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testVehicles() []tracker.Vehicle {
	return []tracker.Vehicle{
		{ID: "5_Heumarkt_0905", Line: "5", Direction: "Heumarkt", Lat: 50.94, Lng: 6.91, Progress: 0.5, FromStop: "a", ToStop: "b", SpeedKmh: 24, Delay: 1},
		{ID: "16_Niehl_0910", Line: "16", Direction: "Niehl", Lat: 50.96, Lng: 6.96, Progress: 0.1, FromStop: "c", ToStop: "d", SpeedKmh: 30},
	}
}

func TestRecordAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Record(ctx, time.Now(), testVehicles())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected non-empty snapshot ID")
	}

	n, err := s.CurrentCount(ctx)
	if err != nil {
		t.Fatalf("CurrentCount: %v", err)
	}
	if n != 2 {
		t.Errorf("current count = %d, want 2", n)
	}

	// Second cycle for the same vehicles: current stays at 2, history grows.
	id2, err := s.Record(ctx, time.Now().Add(10*time.Second), testVehicles())
	if err != nil {
		t.Fatalf("Record 2: %v", err)
	}
	if id2 == id1 {
		t.Error("snapshot IDs should differ between cycles")
	}

	n, _ = s.CurrentCount(ctx)
	if n != 2 {
		t.Errorf("current count after upsert = %d, want 2", n)
	}

	hist, err := s.History(ctx, "5_Heumarkt_0905", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Line != "5" || hist[0].Lat != 50.94 {
		t.Errorf("unexpected history row: %+v", hist[0])
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Old cycle: two days ago, well past a 24h retention.
	if _, err := s.Record(ctx, time.Now().Add(-48*time.Hour), testVehicles()); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	if _, err := s.Record(ctx, time.Now(), testVehicles()); err != nil {
		t.Fatalf("Record new: %v", err)
	}

	if err := s.Prune(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	hist, err := s.History(ctx, "5_Heumarkt_0905", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Errorf("history length after prune = %d, want 1", len(hist))
	}
}

func TestRecordEmptyCycle(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Record(context.Background(), time.Now(), nil); err != nil {
		t.Fatalf("Record with no vehicles: %v", err)
	}
}
