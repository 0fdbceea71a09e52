package geo

import "math"

// Simplify reduces a polyline with the Douglas-Peucker algorithm. The
// tolerance is in degrees; 0.0001 (roughly 11 m) keeps shapes visually
// faithful at city zoom levels while cutting most redundant points.
func Simplify(points []Point, tolerance float64) []Point {
	if len(points) <= 2 {
		return points
	}
	keep := make([]bool, len(points))
	keep[0] = true
	keep[len(points)-1] = true
	simplifyRange(points, 0, len(points)-1, tolerance, keep)

	out := make([]Point, 0, len(points))
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}

func simplifyRange(points []Point, first, last int, tolerance float64, keep []bool) {
	if last <= first+1 {
		return
	}
	maxDist := 0.0
	maxIdx := first
	for i := first + 1; i < last; i++ {
		d := perpendicularDistance(points[i], points[first], points[last])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}
	if maxDist > tolerance {
		keep[maxIdx] = true
		simplifyRange(points, first, maxIdx, tolerance, keep)
		simplifyRange(points, maxIdx, last, tolerance, keep)
	}
}

// perpendicularDistance is the planar distance from p to the line through a
// and b, in degrees. Treating lat/lng as planar is fine at this scale.
func perpendicularDistance(p, a, b Point) float64 {
	dx := b.Lng - a.Lng
	dy := b.Lat - a.Lat
	if dx == 0 && dy == 0 {
		dLat := p.Lat - a.Lat
		dLng := p.Lng - a.Lng
		return math.Sqrt(dLat*dLat + dLng*dLng)
	}
	num := dy*p.Lng - dx*p.Lat + b.Lng*a.Lat - b.Lat*a.Lng
	if num < 0 {
		num = -num
	}
	return num / math.Sqrt(dx*dx+dy*dy)
}
