// Package geo holds the pure interpolation and distance math used by the
// vehicle trackers and the animation smoother. Positions are estimates
// derived from schedules, so planar lat/lng interpolation is intentionally
// good enough here.
package geo

import (
	"math"
	"strings"
)

const earthRadiusMeters = 6371000

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PolyPoint is a point on a route shape with its cumulative distance along
// the polyline. Dist is in arbitrary but consistent units.
type PolyPoint struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Dist     float64 `json:"dist"`
	Sequence int     `json:"sequence"`
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// LerpPoint interpolates lat and lng independently. Not geodesic-correct,
// fine for the short segments we animate over.
func LerpPoint(from, to Point, t float64) Point {
	return Point{
		Lat: Lerp(from.Lat, to.Lat, t),
		Lng: Lerp(from.Lng, to.Lng, t),
	}
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(p1, p2 Point) float64 {
	phi1 := p1.Lat * math.Pi / 180
	phi2 := p2.Lat * math.Pi / 180
	deltaPhi := (p2.Lat - p1.Lat) * math.Pi / 180
	deltaLambda := (p2.Lng - p1.Lng) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Bearing returns the initial bearing from one point to another in degrees,
// normalized to [0, 360).
func Bearing(from, to Point) float64 {
	phi1 := from.Lat * math.Pi / 180
	phi2 := to.Lat * math.Pi / 180
	deltaLambda := (to.Lng - from.Lng) * math.Pi / 180

	y := math.Sin(deltaLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) -
		math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

// Easing functions mapping t in [0,1] to an eased fraction.

func Linear(t float64) float64 { return t }

func EaseInQuad(t float64) float64 { return t * t }

func EaseOutQuad(t float64) float64 { return t * (2 - t) }

func EaseInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return -1 + (4-2*t)*t
}

// EaseOutCubic decelerates naturally toward the target.
func EaseOutCubic(t float64) float64 { return 1 - math.Pow(1-t, 3) }

func Smoothstep(t float64) float64 { return t * t * (3 - 2*t) }

// SmoothTransition glides from current toward target over the given duration.
// At elapsed >= duration it returns exactly target; it never overshoots.
func SmoothTransition(current, target Point, duration, elapsed float64) Point {
	t := math.Min(1, elapsed/duration)
	return LerpPoint(current, target, EaseOutCubic(t))
}

// SignificantChange reports whether two positions differ by more than
// threshold meters. A missing position always counts as significant.
func SignificantChange(p1, p2 *Point, threshold float64) bool {
	if p1 == nil || p2 == nil {
		return true
	}
	return Haversine(*p1, *p2) > threshold
}

// InterpolateAlongPolyline maps progress in [0,1] to a position along the
// polyline by cumulative distance. Returns false when the polyline is empty.
func InterpolateAlongPolyline(points []PolyPoint, progress float64) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	if len(points) == 1 || progress <= 0 {
		return Point{Lat: points[0].Lat, Lng: points[0].Lng}, true
	}
	last := points[len(points)-1]
	if progress >= 1 {
		return Point{Lat: last.Lat, Lng: last.Lng}, true
	}

	totalDist := last.Dist - points[0].Dist
	targetDist := points[0].Dist + totalDist*progress

	for i := 0; i < len(points)-1; i++ {
		p1 := points[i]
		p2 := points[i+1]
		if p1.Dist <= targetDist && targetDist <= p2.Dist {
			span := p2.Dist - p1.Dist
			if span == 0 {
				span = 1
			}
			t := (targetDist - p1.Dist) / span
			return Point{
				Lat: Lerp(p1.Lat, p2.Lat, t),
				Lng: Lerp(p1.Lng, p2.Lng, t),
			}, true
		}
	}

	return Point{Lat: last.Lat, Lng: last.Lng}, true
}

// Clamp constrains a value between min and max.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// NormalizeDirection canonicalizes an upstream direction string for
// comparison: lowercase, collapsed whitespace, umlauts transliterated.
func NormalizeDirection(direction string) string {
	s := strings.ToLower(direction)
	s = strings.Join(strings.Fields(s), " ")
	r := strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")
	return strings.TrimSpace(r.Replace(s))
}
