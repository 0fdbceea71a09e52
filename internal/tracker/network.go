package tracker

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"transit-tracker/internal/feed"
)

// DerivedVehicleKey reconstructs a vehicle identity from a departure. The
// upstream APIs expose scheduled-per-station departures, not vehicle
// telemetry, so the same physical vehicle shows up in the departure lists of
// several upcoming stops. (line, direction, HH:MM) stands in for the missing
// vehicle ID and collapses those observations.
//
// Format: line_direction_HHMM, direction whitespace folded to underscores
// and truncated to 15 characters.
func DerivedVehicleKey(dep feed.Departure) string {
	direction := strings.Join(strings.Fields(dep.Direction), "_")
	if len(direction) > 15 {
		direction = direction[:15]
	}
	return fmt.Sprintf("%s_%s_%02d%02d", dep.Line, direction, dep.RealtimeHour, dep.RealtimeMinute)
}

// NetworkTracker aggregates per-station departure feeds into a deduplicated
// network-wide set of vehicle positions. Safe for concurrent use; polling
// cycles may overlap when one outlives its interval.
type NetworkTracker struct {
	tracker        *Tracker
	monitoredLines []string

	mu                sync.Mutex
	stationOrder      []string
	stationDepartures map[string][]feed.Departure
}

// NewNetwork creates a network tracker filtered to monitoredLines. An empty
// filter tracks every line.
func NewNetwork(t *Tracker, monitoredLines []string) *NetworkTracker {
	return &NetworkTracker{
		tracker:           t,
		monitoredLines:    monitoredLines,
		stationDepartures: make(map[string][]feed.Departure),
	}
}

// AddStationData replaces the stored departure batch for a station.
func (n *NetworkTracker) AddStationData(stationID string, departures []feed.Departure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.stationDepartures[stationID]; !seen {
		n.stationOrder = append(n.stationOrder, stationID)
	}
	n.stationDepartures[stationID] = departures
}

// AllVehiclePositions computes the deduplicated vehicle set across every
// tracked station. For each derived key the first observing station wins.
// Output order is first-seen order.
func (n *NetworkTracker) AllVehiclePositions(now time.Time) []Vehicle {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[string]struct{})
	var vehicles []Vehicle

	for _, stationID := range n.stationOrder {
		for _, dep := range n.stationDepartures[stationID] {
			if !n.tracksLine(dep.Line) {
				continue
			}
			key := DerivedVehicleKey(dep)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			pos := n.tracker.CalculatePosition(dep, now)
			if pos == nil {
				continue
			}
			pos.ID = key
			vehicles = append(vehicles, *pos)
		}
	}
	return vehicles
}

// Clear drops all stored station data.
func (n *NetworkTracker) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stationOrder = nil
	n.stationDepartures = make(map[string][]feed.Departure)
}

func (n *NetworkTracker) tracksLine(line string) bool {
	if len(n.monitoredLines) == 0 {
		return true
	}
	for _, l := range n.monitoredLines {
		if l == line {
			return true
		}
	}
	return false
}
