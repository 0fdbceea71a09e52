// Package tracker derives estimated vehicle positions from schedule data and
// live departure times. No GPS feed exists for these networks; everything
// here is interpolation over the GTFS bundle, so positions are estimates.
package tracker

import (
	"log"
	"strings"
	"time"

	"transit-tracker/internal/feed"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/gtfs"
)

// defaultSpeedKmh is used when a segment carries no usable distance or
// travel time. Typical tram/metro cruising speed.
const defaultSpeedKmh = 25

// Vehicle is one estimated vehicle position, recomputed from scratch every
// tracking cycle. Identity is reconstructed from the departure, not taken
// from an upstream vehicle ID.
type Vehicle struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Progress  float64   `json:"progress"`
	FromStop  string    `json:"fromStop"`
	ToStop    string    `json:"toStop"`
	SpeedKmh  float64   `json:"speed"`
	Line      string    `json:"line"`
	Direction string    `json:"direction"`
	Delay     int       `json:"delay"`
	Timestamp time.Time `json:"timestamp"`
}

// Position returns the vehicle's coordinate.
func (v Vehicle) Position() geo.Point {
	return geo.Point{Lat: v.Lat, Lng: v.Lng}
}

// segment is the pair of adjacent stops a vehicle is currently between.
type segment struct {
	from           gtfs.Stop
	to             gtfs.Stop
	travelTimeSecs int
	elapsedSecs    float64
	distanceMeters float64
}

// Tracker computes single-vehicle positions against a GTFS bundle. The
// bundle is read-only for the lifetime of the tracker.
type Tracker struct {
	bundle *gtfs.Bundle
}

func New(bundle *gtfs.Bundle) *Tracker {
	return &Tracker{bundle: bundle}
}

// CalculatePosition estimates where the vehicle belonging to a departure is
// right now. Returns nil when the vehicle has not departed yet, has
// completed its route, or reference data is missing. It never panics; the
// caller just omits nil results.
func (t *Tracker) CalculatePosition(dep feed.Departure, now time.Time) *Vehicle {
	shape, ok := t.findShape(dep.Line, dep.Direction)
	if !ok {
		log.Printf("tracker: no shape for line %s direction %q", dep.Line, dep.Direction)
		return nil
	}

	seg := t.findCurrentSegment(dep.Line, dep, now)
	if seg == nil {
		// not yet departed or route completed
		return nil
	}

	progress := segmentProgress(seg)
	pos := t.interpolatePosition(shape, seg, progress)
	speed := segmentSpeed(seg)

	return &Vehicle{
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		Progress:  progress,
		FromStop:  seg.from.ID,
		ToStop:    seg.to.ID,
		SpeedKmh:  speed,
		Line:      dep.Line,
		Direction: dep.Direction,
		Delay:     dep.DelayMinutes,
		Timestamp: now,
	}
}

// MatchesDirection is the loose heuristic matching a shape's direction text
// against an upstream direction string: case-insensitive containment of the
// first five characters. Upstream direction strings are inconsistently
// formatted, so anything stricter drops real matches. Kept behind a named
// function so a canonical-direction match can replace it later.
func MatchesDirection(shapeDirection, departureDirection string) bool {
	probe := strings.ToLower(departureDirection)
	// Truncate by runes, not bytes: headsigns like "Mülheim" carry
	// multibyte characters and a byte slice could split one in half.
	if r := []rune(probe); len(r) > 5 {
		probe = string(r[:5])
	}
	return strings.Contains(strings.ToLower(shapeDirection), probe)
}

func (t *Tracker) findShape(line, direction string) (gtfs.Shape, bool) {
	for _, shape := range t.bundle.Shapes {
		if shape.RouteID == line && MatchesDirection(shape.Direction, direction) {
			return shape, true
		}
	}
	return gtfs.Shape{}, false
}

// findCurrentSegment walks the line's schedule accumulating travel times
// until the cumulative window contains the elapsed seconds since departure.
func (t *Tracker) findCurrentSegment(line string, dep feed.Departure, now time.Time) *segment {
	sched, ok := t.bundle.Schedule[line]
	if !ok || len(sched.Segments) == 0 {
		log.Printf("tracker: no schedule for line %s", line)
		return nil
	}

	departureTime := time.Date(now.Year(), now.Month(), now.Day(),
		dep.RealtimeHour, dep.RealtimeMinute, 0, 0, now.Location())

	// Midnight rollover: a late departure observed shortly after midnight
	// is still in transit; shift now into the next day before comparing.
	if now.Hour() < 6 && dep.RealtimeHour > 20 {
		now = now.Add(24 * time.Hour)
	}

	elapsed := now.Sub(departureTime).Seconds()
	if elapsed < 0 {
		// vehicle hasn't departed yet
		return nil
	}

	cumulative := 0.0
	for _, segData := range sched.Segments {
		segTime := float64(segData.TravelTimeSecs)
		if elapsed >= cumulative && elapsed < cumulative+segTime {
			from, okFrom := t.bundle.Stops[segData.FromStop]
			to, okTo := t.bundle.Stops[segData.ToStop]
			if !okFrom || !okTo {
				log.Printf("tracker: missing stop data for segment %s -> %s", segData.FromStop, segData.ToStop)
				cumulative += segTime
				continue
			}
			return &segment{
				from:           from,
				to:             to,
				travelTimeSecs: segData.TravelTimeSecs,
				elapsedSecs:    elapsed - cumulative,
				distanceMeters: segData.DistanceMeters,
			}
		}
		cumulative += segTime
	}

	// vehicle has completed the route
	return nil
}

func segmentProgress(seg *segment) float64 {
	if seg.travelTimeSecs == 0 {
		return 1
	}
	return geo.Clamp(seg.elapsedSecs/float64(seg.travelTimeSecs), 0, 1)
}

// interpolatePosition places the vehicle on the route shape between the two
// segment stops. Falls back to a direct stop-to-stop lerp when the shape
// slice is unusable.
func (t *Tracker) interpolatePosition(shape gtfs.Shape, seg *segment, progress float64) geo.Point {
	fromPt := geo.Point{Lat: seg.from.Lat, Lng: seg.from.Lng}
	toPt := geo.Point{Lat: seg.to.Lat, Lng: seg.to.Lng}

	points := shape.Points
	if len(points) == 0 {
		return geo.LerpPoint(fromPt, toPt, progress)
	}

	fromIdx := closestShapePoint(points, fromPt)
	toIdx := closestShapePoint(points, toPt)
	if fromIdx < 0 || toIdx < 0 {
		return geo.LerpPoint(fromPt, toPt, progress)
	}

	lo, hi := fromIdx, toIdx
	if lo > hi {
		lo, hi = hi, lo
	}
	slice := points[lo : hi+1]
	if len(slice) < 2 {
		return geo.LerpPoint(fromPt, toPt, progress)
	}

	pos, ok := geo.InterpolateAlongPolyline(slice, progress)
	if !ok {
		return geo.LerpPoint(fromPt, toPt, progress)
	}
	return pos
}

// closestShapePoint finds the shape point nearest to a stop by squared
// planar distance. Haversine would be overkill for an argmin over points a
// few hundred meters apart.
func closestShapePoint(points []geo.PolyPoint, stop geo.Point) int {
	best := -1
	bestDist := 0.0
	for i, p := range points {
		dLat := p.Lat - stop.Lat
		dLng := p.Lng - stop.Lng
		d := dLat*dLat + dLng*dLng
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func segmentSpeed(seg *segment) float64 {
	if seg.distanceMeters == 0 || seg.travelTimeSecs == 0 {
		return defaultSpeedKmh
	}
	distanceKm := seg.distanceMeters / 1000
	timeHours := float64(seg.travelTimeSecs) / 3600
	return distanceKm / timeHours
}
