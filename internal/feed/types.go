// Package feed fetches live departures from the upstream transit APIs and
// normalizes them into one canonical shape. Each upstream (VRR EFA, MVG,
// db.transport.rest) exposes a slightly different JSON layout, so every
// integration gets its own adapter rather than field-presence checks
// scattered through the trackers.
package feed

import (
	"context"
	"fmt"
)

// Departure is the canonical live departure, one per vehicle per observing
// station per polling cycle. Ephemeral: a fresh batch replaces the previous
// one on every poll, nothing is persisted.
type Departure struct {
	Line           string `json:"line"`
	Direction      string `json:"direction"`
	PlannedHour    int    `json:"plannedHour"`
	PlannedMinute  int    `json:"plannedMinute"`
	RealtimeHour   int    `json:"realtimeHour"`
	RealtimeMinute int    `json:"realtimeMinute"`
	DelayMinutes   int    `json:"delay"`
	Platform       string `json:"platform,omitempty"`
	Cancelled      bool   `json:"cancelled,omitempty"`
	Realtime       bool   `json:"isRealtime"`
	Color          string `json:"color,omitempty"`
	Product        string `json:"product,omitempty"`
}

// TimeLabel formats the realtime departure as HH:MM.
func (d Departure) TimeLabel() string {
	return fmt.Sprintf("%02d:%02d", d.RealtimeHour, d.RealtimeMinute)
}

// Source is a departure feed for one upstream integration.
type Source interface {
	// Departures returns the current departure list for a station. The
	// returned batch supersedes any earlier one for that station.
	Departures(ctx context.Context, stationID string) ([]Departure, error)
}
