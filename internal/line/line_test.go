package line

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transit-tracker/internal/feed"
)

// threeStopConfig is the minimal line used across these tests:
// A@0s, B@90s, C@180s (two 90s segments), inbound toward C.
func threeStopConfig() *Config {
	return &Config{
		Name:         "5",
		Aliases:      []string{"5", "Linie 5", "STR 5"},
		InboundTerms: []string{"heumarkt", "dom", "neumarkt"},
		InboundName:  "heumarkt",
		OutboundName: "ossendorf",
		Stops: []StopConfig{
			{ID: "A", Name: "Alpha"},
			{ID: "B", Name: "Beta"},
			{ID: "C", Name: "Heumarkt"},
		},
		Segments: []SegmentConfig{
			{From: 0, To: 1, TravelTime: 90},
			{From: 1, To: 2, TravelTime: 90},
		},
	}
}

func TestCumulativeAndTotalTime(t *testing.T) {
	c := threeStopConfig()
	if got := c.CumulativeTime(0); got != 0 {
		t.Errorf("CumulativeTime(0) = %d", got)
	}
	if got := c.CumulativeTime(1); got != 90 {
		t.Errorf("CumulativeTime(1) = %d, want 90", got)
	}
	if got := c.TotalTime(); got != 180 {
		t.Errorf("TotalTime = %d, want 180", got)
	}
}

func TestPositionFromTime(t *testing.T) {
	c := threeStopConfig()

	pos, seg := c.PositionFromTime(45)
	if math.Abs(pos-25) > 1e-9 || seg != 0 {
		t.Errorf("PositionFromTime(45) = (%v, %d), want (25, 0)", pos, seg)
	}

	pos, seg = c.PositionFromTime(135)
	if math.Abs(pos-75) > 1e-9 || seg != 1 {
		t.Errorf("PositionFromTime(135) = (%v, %d), want (75, 1)", pos, seg)
	}

	pos, _ = c.PositionFromTime(999)
	if pos != 100 {
		t.Errorf("past the end = %v, want 100", pos)
	}
}

// The approaching-vehicle scenario: departure in 45s toward C, viewed from B
// (cumulative 90s). The vehicle sits 45s before B inside segment A->B, at
// 25% of the track.
func TestApproachingVehiclePosition(t *testing.T) {
	c := threeStopConfig()
	now := time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC)

	deps := []feed.Departure{{
		Line:           "5",
		Direction:      "Heumarkt",
		RealtimeHour:   14,
		RealtimeMinute: 30,
		Realtime:       true,
	}}
	// departure at 14:30:45 means 45s away; shift now back instead
	now = now.Add(-45 * time.Second)

	vehicles := c.Positions(deps, "B", now)
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	v := vehicles[0]
	if v.SecondsUntilDeparture != 45 {
		t.Errorf("secondsUntilDeparture = %d, want 45", v.SecondsUntilDeparture)
	}
	if math.Abs(v.Position-25) > 1e-9 {
		t.Errorf("position = %v, want 25", v.Position)
	}
	if v.Direction != "heumarkt" {
		t.Errorf("direction = %q, want heumarkt", v.Direction)
	}
}

func TestDepartedVehiclePosition(t *testing.T) {
	c := threeStopConfig()
	// departed B 45s ago heading to C: 90+45=135s along, 75%
	now := time.Date(2026, 3, 14, 14, 30, 45, 0, time.UTC)
	deps := []feed.Departure{{
		Line: "5", Direction: "Heumarkt",
		RealtimeHour: 14, RealtimeMinute: 30, Realtime: true,
	}}

	vehicles := c.Positions(deps, "B", now)
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	if math.Abs(vehicles[0].Position-75) > 1e-9 {
		t.Errorf("position = %v, want 75", vehicles[0].Position)
	}
}

func TestOutboundDirection(t *testing.T) {
	c := threeStopConfig()
	now := time.Date(2026, 3, 14, 14, 29, 15, 0, time.UTC)
	deps := []feed.Departure{{
		Line: "5", Direction: "Ossendorf",
		RealtimeHour: 14, RealtimeMinute: 30, Realtime: true,
	}}

	// approaching B from the C side, 45s away: 90+45=135s -> 75%
	vehicles := c.Positions(deps, "B", now)
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	v := vehicles[0]
	if v.Direction != "ossendorf" {
		t.Errorf("direction = %q, want ossendorf", v.Direction)
	}
	if math.Abs(v.Position-75) > 1e-9 {
		t.Errorf("position = %v, want 75", v.Position)
	}
}

func TestOtherLinesIgnored(t *testing.T) {
	c := threeStopConfig()
	now := time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC)
	deps := []feed.Departure{{
		Line: "16", Direction: "Heumarkt",
		RealtimeHour: 14, RealtimeMinute: 31, Realtime: true,
	}}
	if vehicles := c.Positions(deps, "B", now); len(vehicles) != 0 {
		t.Errorf("line 16 departure produced %d vehicles on line 5", len(vehicles))
	}
}

func TestDedupeNearbyVehicles(t *testing.T) {
	c := threeStopConfig()
	now := time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC)
	// the same physical vehicle seen as two departures one second apart:
	// positions differ well under 3 percentage points
	deps := []feed.Departure{
		{Line: "5", Direction: "Heumarkt", RealtimeHour: 14, RealtimeMinute: 31, Realtime: true},
		{Line: "Linie 5", Direction: "Heumarkt via Dom", RealtimeHour: 14, RealtimeMinute: 31, Realtime: true},
	}

	vehicles := c.Positions(deps, "B", now)
	if len(vehicles) != 1 {
		t.Errorf("got %d vehicles, want 1 after dedup", len(vehicles))
	}
}

func TestIncomingOrderAndLimit(t *testing.T) {
	vehicles := []Vehicle{
		{ID: "a", SecondsUntilDeparture: 300},
		{ID: "b", SecondsUntilDeparture: 60},
		{ID: "c", SecondsUntilDeparture: -30}, // already departed
		{ID: "d", SecondsUntilDeparture: 120},
		{ID: "e", SecondsUntilDeparture: 600},
		{ID: "f", SecondsUntilDeparture: 90},
	}
	in := Incoming(vehicles)
	if len(in) != 4 {
		t.Fatalf("got %d incoming, want 4", len(in))
	}
	want := []string{"b", "f", "d", "a"}
	for i, id := range want {
		if in[i].ID != id {
			t.Errorf("incoming[%d] = %s, want %s", i, in[i].ID, id)
		}
	}
}

func TestIsInbound(t *testing.T) {
	c := threeStopConfig()
	cases := map[string]bool{
		"Heumarkt":            true,
		"Dom/Hbf":             true,
		"NEUMARKT":            true,
		"Ossendorf":           false,
		"Sparkasse Am Butzweilerhof": false,
	}
	for dir, want := range cases {
		if got := c.IsInbound(dir); got != want {
			t.Errorf("IsInbound(%q) = %v, want %v", dir, got, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "line.toml")
	content := `
name = "5"
color = "#00963f"
aliases = ["5", "Linie 5"]
inbound_terms = ["heumarkt"]
inbound_name = "heumarkt"
outbound_name = "ossendorf"

[[stops]]
id = "A"
name = "Alpha"

[[stops]]
id = "B"
name = "Beta"

[[segments]]
from = 0
to = 1
travel_time = 90
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TotalTime() != 90 || !cfg.MatchesLine("Linie 5") {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigRejectsMismatchedSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "line.toml")
	content := `
name = "5"
[[stops]]
id = "A"
[[stops]]
id = "B"
[[stops]]
id = "C"
[[segments]]
from = 0
to = 1
travel_time = 90
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("3 stops with 1 segment should fail validation")
	}
}

func TestWatcherSnapshot(t *testing.T) {
	c := threeStopConfig()
	w := NewWatcher(c, "B")

	w.SetDepartures([]feed.Departure{{
		Line: "5", Direction: "Heumarkt",
		RealtimeHour: 23, RealtimeMinute: 59, Realtime: true,
	}})

	snap := w.Snapshot()
	if snap.CurrentTime.IsZero() {
		t.Error("snapshot has zero time")
	}
	if len(snap.Incoming) > len(snap.Vehicles) {
		t.Error("incoming cannot exceed vehicles")
	}
}
