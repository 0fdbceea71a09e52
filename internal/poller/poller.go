// Package poller drives the tracking loop: fetch departures for every
// monitored station, derive vehicle positions, publish and persist them.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"transit-tracker/internal/feed"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/store"
	"transit-tracker/internal/tracker"
)

// DepartureSink receives the raw departures of one station each cycle. The
// single-line watcher implements this.
type DepartureSink interface {
	SetDepartures([]feed.Departure)
}

// Config carries the poller's collaborators. Source, Network and Stations
// are required; everything else is optional.
type Config struct {
	Source   feed.Source
	Network  *tracker.NetworkTracker
	Stations []string
	Interval time.Duration

	Publisher *publisher.NATSPublisher
	Store     *store.Store
	Retention time.Duration
	Metrics   *metrics.Collector

	// SinkStation routes that station's departures to Sink.
	Sink        DepartureSink
	SinkStation string
}

type Poller struct {
	cfg Config

	mu         sync.Mutex
	generation uint64
	latest     []tracker.Vehicle
	lastCycle  time.Time
}

func New(cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Poller{cfg: cfg}
}

// Latest returns the vehicle positions of the most recent completed cycle.
func (p *Poller) Latest() ([]tracker.Vehicle, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tracker.Vehicle, len(p.latest))
	copy(out, p.latest)
	return out, p.lastCycle
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
// Cycles run detached with a deadline of one interval; a cycle that outlives
// its interval gets discarded in favor of the newer one.
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.TrackedStations.Set(float64(len(p.cfg.Stations)))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	p.startCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.startCycle(ctx)
		case <-prune.C:
			if p.cfg.Store != nil && p.cfg.Retention > 0 {
				if err := p.cfg.Store.Prune(ctx, p.cfg.Retention); err != nil {
					log.Printf("poller: prune: %v", err)
				}
			}
		}
	}
}

func (p *Poller) startCycle(ctx context.Context) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	go func() {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
		defer cancel()
		p.cycle(cctx, gen)
	}()
}

type stationResult struct {
	stationID  string
	departures []feed.Departure
	err        error
}

func (p *Poller) cycle(ctx context.Context, gen uint64) {
	started := time.Now()

	results := make([]stationResult, len(p.cfg.Stations))
	var wg sync.WaitGroup
	for i, stationID := range p.cfg.Stations {
		wg.Add(1)
		go func(i int, stationID string) {
			defer wg.Done()
			deps, err := p.cfg.Source.Departures(ctx, stationID)
			results[i] = stationResult{stationID: stationID, departures: deps, err: err}
		}(i, stationID)
	}
	wg.Wait()

	now := time.Now()

	// Commit atomically under the poller lock: the generation check and the
	// tracker update must not interleave with a newer cycle's commit, or a
	// slow cycle could overwrite fresher station batches.
	p.mu.Lock()
	if p.generation != gen {
		p.mu.Unlock()
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.StaleCycles.Inc()
		}
		return
	}

	totalDepartures := 0
	for _, res := range results {
		if res.err != nil {
			// Keep the station's previous batch; a transient upstream
			// failure should not blank out its vehicles.
			continue
		}
		totalDepartures += len(res.departures)
		p.cfg.Network.AddStationData(res.stationID, res.departures)
		if p.cfg.Sink != nil && res.stationID == p.cfg.SinkStation {
			p.cfg.Sink.SetDepartures(res.departures)
		}
	}

	positions := p.cfg.Network.AllVehiclePositions(now)
	p.latest = positions
	p.lastCycle = now
	p.mu.Unlock()

	for _, res := range results {
		if res.err != nil {
			log.Printf("poller: station %s: %v", res.stationID, res.err)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.PollErrors.WithLabelValues(res.stationID).Inc()
			}
		}
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Polls.Inc()
		p.cfg.Metrics.TrackedVehicles.Set(float64(len(positions)))
		if dropped := totalDepartures - len(positions); dropped > 0 {
			p.cfg.Metrics.VehiclesDropped.Add(float64(dropped))
		}
		p.cfg.Metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}

	p.publish(positions)
	p.persist(ctx, now, positions)
}

func (p *Poller) publish(positions []tracker.Vehicle) {
	if p.cfg.Publisher == nil {
		return
	}
	for _, v := range positions {
		if err := p.cfg.Publisher.PublishVehicle(v); err != nil {
			log.Printf("poller: publish %s: %v", v.ID, err)
		}
	}
}

func (p *Poller) persist(ctx context.Context, now time.Time, positions []tracker.Vehicle) {
	if p.cfg.Store == nil || len(positions) == 0 {
		return
	}
	if _, err := p.cfg.Store.Record(ctx, now, positions); err != nil {
		log.Printf("poller: record positions: %v", err)
	}
}
