package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"transit-tracker/internal/feed"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/tracker"
)

func testBundle() *gtfs.Bundle {
	return &gtfs.Bundle{
		Routes: map[string]gtfs.Route{
			"5": {ID: "r5", Name: "5", Color: "#00963f"},
		},
		Stops: map[string]gtfs.Stop{
			"a": {ID: "a", Name: "Am Butzweilerhof", Lat: 50.0, Lng: 6.90},
			"b": {ID: "b", Name: "Lokomotivstr.", Lat: 50.0, Lng: 6.91},
			"c": {ID: "c", Name: "Heumarkt", Lat: 50.0, Lng: 6.92},
		},
		Shapes: map[string]gtfs.Shape{
			"5_hin": {
				RouteID:   "5",
				Direction: "Heumarkt",
				Points: []geo.PolyPoint{
					{Lat: 50.0, Lng: 6.90, Dist: 0, Sequence: 0},
					{Lat: 50.0, Lng: 6.91, Dist: 700, Sequence: 1},
					{Lat: 50.0, Lng: 6.92, Dist: 1400, Sequence: 2},
				},
			},
		},
		Schedule: map[string]gtfs.LineSchedule{
			"5": {Segments: []gtfs.ScheduleSegment{
				{FromStop: "a", ToStop: "b", TravelTimeSecs: 90, DistanceMeters: 600},
				{FromStop: "b", ToStop: "c", TravelTimeSecs: 90, DistanceMeters: 600},
			}},
		},
	}
}

// departedRecently builds a departure that left one minute ago, which keeps
// the vehicle inside the two-segment route regardless of wall clock seconds.
func departedRecently() feed.Departure {
	t := time.Now().Add(-time.Minute)
	return feed.Departure{
		Line:           "5",
		Direction:      "Heumarkt",
		RealtimeHour:   t.Hour(),
		RealtimeMinute: t.Minute(),
		PlannedHour:    t.Hour(),
		PlannedMinute:  t.Minute(),
	}
}

type fakeSource struct {
	departures map[string][]feed.Departure
	errs       map[string]error

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Departures(_ context.Context, stationID string) ([]feed.Departure, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.errs[stationID]; err != nil {
		return nil, err
	}
	return f.departures[stationID], nil
}

type captureSink struct {
	batches [][]feed.Departure
}

func (c *captureSink) SetDepartures(deps []feed.Departure) {
	c.batches = append(c.batches, deps)
}

func newTestPoller(src feed.Source, sink DepartureSink, sinkStation string) *Poller {
	network := tracker.NewNetwork(tracker.New(testBundle()), nil)
	return New(Config{
		Source:      src,
		Network:     network,
		Stations:    []string{"st1", "st2"},
		Interval:    10 * time.Second,
		Sink:        sink,
		SinkStation: sinkStation,
	})
}

func TestCycleProducesPositions(t *testing.T) {
	src := &fakeSource{
		departures: map[string][]feed.Departure{
			"st1": {departedRecently()},
		},
	}
	p := newTestPoller(src, nil, "")

	p.generation = 1
	p.cycle(context.Background(), 1)

	positions, at := p.Latest()
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if positions[0].Line != "5" {
		t.Errorf("line = %q, want 5", positions[0].Line)
	}
	if at.IsZero() {
		t.Error("expected non-zero cycle timestamp")
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestCycleRetainsStationOnError(t *testing.T) {
	src := &fakeSource{
		departures: map[string][]feed.Departure{
			"st1": {departedRecently()},
		},
	}
	p := newTestPoller(src, nil, "")

	p.generation = 1
	p.cycle(context.Background(), 1)
	if positions, _ := p.Latest(); len(positions) != 1 {
		t.Fatalf("setup: got %d positions, want 1", len(positions))
	}

	// Upstream breaks; the station's previous batch must keep feeding the
	// tracker instead of blanking its vehicles.
	src.errs = map[string]error{"st1": errors.New("upstream down")}
	p.generation = 2
	p.cycle(context.Background(), 2)

	positions, _ := p.Latest()
	if len(positions) != 1 {
		t.Errorf("got %d positions after failed fetch, want 1", len(positions))
	}
}

func TestStaleCycleDiscarded(t *testing.T) {
	src := &fakeSource{
		departures: map[string][]feed.Departure{
			"st1": {departedRecently()},
		},
	}
	p := newTestPoller(src, nil, "")

	// A newer generation started while this cycle was in flight.
	p.generation = 2
	p.cycle(context.Background(), 1)

	if positions, _ := p.Latest(); len(positions) != 0 {
		t.Errorf("stale cycle committed %d positions, want 0", len(positions))
	}
}

// A cycle that outlives its interval runs alongside its successor. Both hit
// the shared network tracker, so the commit must be serialized; run with
// -race to confirm. The newer generation's result always wins.
func TestOverlappingCyclesCommitSafely(t *testing.T) {
	src := &fakeSource{
		departures: map[string][]feed.Departure{
			"st1": {departedRecently()},
		},
	}
	p := newTestPoller(src, nil, "")

	for i := 0; i < 20; i++ {
		older := uint64(2*i + 1)
		newer := older + 1

		p.mu.Lock()
		p.generation = older
		p.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.cycle(context.Background(), older)
		}()
		go func() {
			defer wg.Done()
			p.mu.Lock()
			p.generation = newer
			p.mu.Unlock()
			p.cycle(context.Background(), newer)
		}()
		wg.Wait()

		if positions, _ := p.Latest(); len(positions) != 1 {
			t.Fatalf("iteration %d: got %d positions, want 1", i, len(positions))
		}
	}
}

func TestSinkReceivesOnlyItsStation(t *testing.T) {
	dep := departedRecently()
	src := &fakeSource{
		departures: map[string][]feed.Departure{
			"st1": {dep},
			"st2": {dep, dep},
		},
	}
	sink := &captureSink{}
	p := newTestPoller(src, sink, "st2")

	p.generation = 1
	p.cycle(context.Background(), 1)

	if len(sink.batches) != 1 {
		t.Fatalf("sink received %d batches, want 1", len(sink.batches))
	}
	if len(sink.batches[0]) != 2 {
		t.Errorf("sink batch size = %d, want 2", len(sink.batches[0]))
	}
}
