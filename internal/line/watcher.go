package line

import (
	"context"
	"sync"
	"time"

	"transit-tracker/internal/feed"
)

// Snapshot is one recomputed view of the line: every vehicle on the track
// plus the soonest arrivals for the selected stop.
type Snapshot struct {
	Vehicles    []Vehicle `json:"vehicles"`
	Incoming    []Vehicle `json:"incomingVehicles"`
	CurrentTime time.Time `json:"currentTime"`
}

// Watcher recomputes the line snapshot on a one-second tick so positions
// advance smoothly between departure polls. Departure batches are swapped in
// wholesale by the polling side.
type Watcher struct {
	cfg            *Config
	selectedStopID string

	mu         sync.RWMutex
	departures []feed.Departure
	snapshot   Snapshot
}

func NewWatcher(cfg *Config, selectedStopID string) *Watcher {
	return &Watcher{cfg: cfg, selectedStopID: selectedStopID}
}

// SetDepartures replaces the departure batch the snapshot is derived from.
func (w *Watcher) SetDepartures(departures []feed.Departure) {
	w.mu.Lock()
	w.departures = departures
	w.mu.Unlock()
	w.recompute(time.Now())
}

// Snapshot returns the latest computed snapshot.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Run recomputes the snapshot every second until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	w.recompute(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.recompute(now)
		}
	}
}

func (w *Watcher) recompute(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	vehicles := w.cfg.Positions(w.departures, w.selectedStopID, now)
	w.snapshot = Snapshot{
		Vehicles:    vehicles,
		Incoming:    Incoming(vehicles),
		CurrentTime: now,
	}
}
