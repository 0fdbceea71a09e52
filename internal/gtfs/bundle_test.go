package gtfs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"transit-tracker/internal/geo"
)

func writeFixture(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "routes.json", map[string]Route{
		"5": {ID: "5", Name: "5", LongName: "Butzweilerhof - Heumarkt", Color: "#00963f", Type: 0},
	})
	writeFixture(t, dir, "stops.json", map[string]Stop{
		"22000001": {ID: "22000001", Name: "Heumarkt", Lat: 50.9364, Lng: 6.9599},
	})
	writeFixture(t, dir, "shapes.json", map[string]Shape{
		"5_0": {RouteID: "5", Direction: "Heumarkt", Points: []geo.PolyPoint{
			{Lat: 50.98, Lng: 6.91, Dist: 0, Sequence: 0},
			{Lat: 50.94, Lng: 6.96, Dist: 6000, Sequence: 1},
		}},
	})
	writeFixture(t, dir, "schedule.json", map[string]LineSchedule{
		"5": {Segments: []ScheduleSegment{
			{FromStop: "22000903", ToStop: "22000904", TravelTimeSecs: 90, DistanceMeters: 600},
		}},
	})

	b, err := LoadBundle(dir)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if len(b.Routes) != 1 || b.Routes["5"].Color != "#00963f" {
		t.Errorf("unexpected routes: %+v", b.Routes)
	}
	if b.Stops["22000001"].Name != "Heumarkt" {
		t.Errorf("unexpected stops: %+v", b.Stops)
	}
	if len(b.Shapes["5_0"].Points) != 2 {
		t.Errorf("unexpected shapes: %+v", b.Shapes)
	}
	if b.Schedule["5"].TotalTime() != 90 {
		t.Errorf("TotalTime = %d, want 90", b.Schedule["5"].TotalTime())
	}
}

func TestLoadBundleMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadBundle(dir); err == nil {
		t.Error("LoadBundle on empty dir should fail")
	}
}

func TestWriteBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := &Bundle{
		Routes:   map[string]Route{"16": {ID: "16", Name: "16", Color: "#009fe3"}},
		Stops:    map[string]Stop{"s1": {ID: "s1", Name: "Neumarkt", Lat: 50.9359, Lng: 6.9475}},
		Shapes:   map[string]Shape{"16_0": {RouteID: "16", Direction: "Niehl"}},
		Schedule: map[string]LineSchedule{"16": {Segments: []ScheduleSegment{{FromStop: "s1", ToStop: "s2", TravelTimeSecs: 120}}}},
	}
	if err := WriteBundle(dir, in); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}
	out, err := LoadBundle(dir)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if out.Routes["16"].Color != "#009fe3" || out.Schedule["16"].TotalTime() != 120 {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestTotalTime(t *testing.T) {
	s := LineSchedule{Segments: []ScheduleSegment{
		{TravelTimeSecs: 90}, {TravelTimeSecs: 120}, {TravelTimeSecs: 60},
	}}
	if got := s.TotalTime(); got != 270 {
		t.Errorf("TotalTime = %d, want 270", got)
	}
}
