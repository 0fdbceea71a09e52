package tracker

import (
	"fmt"
	"sync"
	"testing"

	"transit-tracker/internal/feed"
)

func TestDerivedVehicleKey(t *testing.T) {
	d := feed.Departure{Line: "5", Direction: "Heumarkt", RealtimeHour: 14, RealtimeMinute: 30}
	if got := DerivedVehicleKey(d); got != "5_Heumarkt_1430" {
		t.Errorf("key = %q, want 5_Heumarkt_1430", got)
	}

	d = feed.Departure{Line: "16", Direction: "Niehl Sebastianstr.", RealtimeHour: 9, RealtimeMinute: 5}
	// "Niehl_Sebastianstr." truncates to 15 characters
	if got := DerivedVehicleKey(d); got != "16_Niehl_Sebastian_0905" {
		t.Errorf("key = %q, want 16_Niehl_Sebastian_0905", got)
	}
}

func TestNetworkDeduplicatesAcrossStations(t *testing.T) {
	nt := NewNetwork(New(testBundle()), nil)

	// the same physical vehicle observed from two stations
	d := dep(14, 30)
	nt.AddStationData("A", []feed.Departure{d})
	nt.AddStationData("B", []feed.Departure{d})

	vehicles := nt.AllVehiclePositions(at(14, 30, 45))
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	if vehicles[0].ID != DerivedVehicleKey(d) {
		t.Errorf("vehicle ID = %q, want derived key", vehicles[0].ID)
	}
}

func TestNetworkLineFilter(t *testing.T) {
	nt := NewNetwork(New(testBundle()), []string{"16"})
	nt.AddStationData("A", []feed.Departure{dep(14, 30)}) // line 5, filtered out

	if vehicles := nt.AllVehiclePositions(at(14, 30, 45)); len(vehicles) != 0 {
		t.Errorf("filtered line produced %d vehicles, want 0", len(vehicles))
	}

	// empty filter tracks everything
	all := NewNetwork(New(testBundle()), nil)
	all.AddStationData("A", []feed.Departure{dep(14, 30)})
	if vehicles := all.AllVehiclePositions(at(14, 30, 45)); len(vehicles) != 1 {
		t.Errorf("unfiltered got %d vehicles, want 1", len(vehicles))
	}
}

func TestNetworkDropsNilPositions(t *testing.T) {
	nt := NewNetwork(New(testBundle()), nil)
	nt.AddStationData("A", []feed.Departure{
		dep(14, 30), // in transit
		dep(15, 0),  // not yet departed
	})

	vehicles := nt.AllVehiclePositions(at(14, 30, 45))
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
}

func TestNetworkClear(t *testing.T) {
	nt := NewNetwork(New(testBundle()), nil)
	nt.AddStationData("A", []feed.Departure{dep(14, 30)})
	nt.Clear()
	if vehicles := nt.AllVehiclePositions(at(14, 30, 45)); len(vehicles) != 0 {
		t.Errorf("after Clear got %d vehicles, want 0", len(vehicles))
	}
}

// Overlapping polling cycles write and read the tracker from separate
// goroutines; run with -race to verify the internal locking holds up.
func TestNetworkConcurrentAccess(t *testing.T) {
	nt := NewNetwork(New(testBundle()), nil)
	now := at(14, 30, 45)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			station := fmt.Sprintf("station-%d", i%3)
			for j := 0; j < 50; j++ {
				nt.AddStationData(station, []feed.Departure{dep(14, 30)})
				nt.AllVehiclePositions(now)
			}
		}(i)
	}
	wg.Wait()

	if vehicles := nt.AllVehiclePositions(now); len(vehicles) != 1 {
		t.Errorf("got %d vehicles after concurrent writes, want 1", len(vehicles))
	}
}

func TestNetworkReplacesStationBatch(t *testing.T) {
	nt := NewNetwork(New(testBundle()), nil)
	nt.AddStationData("A", []feed.Departure{dep(14, 30)})
	nt.AddStationData("A", []feed.Departure{dep(14, 40)})

	vehicles := nt.AllVehiclePositions(at(14, 40, 45))
	if len(vehicles) != 1 {
		t.Fatalf("got %d vehicles, want 1", len(vehicles))
	}
	if vehicles[0].ID != "5_Heumarkt_1440" {
		t.Errorf("vehicle ID = %q, old batch not replaced", vehicles[0].ID)
	}
}
