// Package anim smooths vehicle positions between polling cycles. The
// polling domain replaces the derived vehicle set every few seconds; the
// smoother is stepped at frame rate and interpolates in memory only, so a
// frame never waits on a poll.
package anim

import (
	"sync"
	"time"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/tracker"
)

const (
	// transitionDuration bounds the eased glide after a poll moves a
	// vehicle meaningfully.
	transitionDuration = 500 * time.Millisecond

	// jumpThresholdMeters decides between animate-in-place and a glide.
	jumpThresholdMeters = 5

	// assumedSegmentMeters stands in for the real segment length when
	// advancing progress between polls.
	assumedSegmentMeters = 500
)

type previous struct {
	vehicle         tracker.Vehicle
	transitionStart time.Time
	transitioning   bool
}

// Smoother interpolates a vehicle set between successive polls. Step is
// called once per frame with the latest authoritative set; the smoother
// keeps a per-vehicle cache of the last adopted position and either advances
// progress along the current segment or glides toward a jumped position.
type Smoother struct {
	mu       sync.Mutex
	previous map[string]*previous
	lastStep time.Time
	paused   bool
}

func NewSmoother() *Smoother {
	return &Smoother{previous: make(map[string]*previous)}
}

// Step produces the frame's smoothed vehicle set from the latest polled one.
// Vehicles absent from the batch are evicted from the cache.
func (s *Smoother) Step(vehicles []tracker.Vehicle, now time.Time) []tracker.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return vehicles
	}

	delta := 0.0
	if !s.lastStep.IsZero() {
		delta = now.Sub(s.lastStep).Seconds()
	}
	s.lastStep = now

	out := make([]tracker.Vehicle, 0, len(vehicles))
	seen := make(map[string]struct{}, len(vehicles))

	for _, v := range vehicles {
		seen[v.ID] = struct{}{}
		prev, ok := s.previous[v.ID]
		if !ok {
			// new vehicle: adopt as-is, nothing to animate from
			s.previous[v.ID] = &previous{vehicle: v}
			out = append(out, v)
			continue
		}

		prevPos := prev.vehicle.Position()
		newPos := v.Position()
		if !geo.SignificantChange(&prevPos, &newPos, jumpThresholdMeters) {
			// small drift: keep advancing along the current segment
			animated := advance(v, delta)
			prev.vehicle = animated
			prev.transitioning = false
			out = append(out, animated)
			continue
		}

		// position jumped with new poll data: bounded eased transition
		if !prev.transitioning {
			prev.transitioning = true
			prev.transitionStart = now
		}
		elapsed := now.Sub(prev.transitionStart)
		if elapsed < transitionDuration {
			smoothed := geo.SmoothTransition(prevPos, newPos,
				float64(transitionDuration.Milliseconds()), float64(elapsed.Milliseconds()))
			blended := v
			blended.Lat = smoothed.Lat
			blended.Lng = smoothed.Lng
			out = append(out, blended)
		} else {
			// transition window over: snap to the authoritative record
			prev.vehicle = v
			prev.transitioning = false
			out = append(out, v)
		}
	}

	for id := range s.previous {
		if _, ok := seen[id]; !ok {
			delete(s.previous, id)
		}
	}

	return out
}

// Pause stops smoothing while the consumer is not visible. The next Resume
// resets the delta-time baseline so a backgrounded period never turns into
// one huge animation step.
func (s *Smoother) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables smoothing with a fresh time baseline.
func (s *Smoother) Resume(now time.Time) {
	s.mu.Lock()
	s.paused = false
	s.lastStep = now
	s.mu.Unlock()
}

// advance moves a vehicle's progress forward by the distance its estimated
// speed covers this frame, against an assumed segment length. Progress caps
// at 1; lat/lng stay untouched until the next real recomputation.
func advance(v tracker.Vehicle, deltaSeconds float64) tracker.Vehicle {
	if v.SpeedKmh == 0 {
		return v
	}
	speedMps := v.SpeedKmh * 1000 / 3600
	increment := speedMps * deltaSeconds / assumedSegmentMeters

	next := v.Progress + increment
	if next >= 1 {
		// end of segment: hold and wait for the next poll
		return v
	}
	v.Progress = next
	return v
}
