package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/gtfs"
)

// LoadBundle builds the in-memory reference bundle from a GTFS import
// database. For every route one representative trip per direction is chosen
// (the trip with the most stop_times); its stop sequence yields the segment
// schedule and its shape the polyline. lines filters by route_short_name;
// empty means all routes.
func LoadBundle(ctx context.Context, db *sql.DB, lines []string) (*gtfs.Bundle, error) {
	b := &gtfs.Bundle{
		Routes:   make(map[string]gtfs.Route),
		Stops:    make(map[string]gtfs.Stop),
		Shapes:   make(map[string]gtfs.Shape),
		Schedule: make(map[string]gtfs.LineSchedule),
	}

	wanted := make(map[string]bool, len(lines))
	for _, l := range lines {
		wanted[strings.TrimSpace(l)] = true
	}

	routes, err := fetchRoutes(ctx, db)
	if err != nil {
		return nil, err
	}
	for id, r := range routes {
		if len(wanted) > 0 && !wanted[r.Name] {
			delete(routes, id)
			continue
		}
		b.Routes[r.Name] = r
	}
	if len(b.Routes) == 0 {
		return nil, fmt.Errorf("no matching routes in database")
	}

	if err := fetchStops(ctx, db, b); err != nil {
		return nil, err
	}

	reps, err := fetchRepresentativeTrips(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, rep := range reps {
		route, ok := routes[rep.routeID]
		if !ok {
			continue
		}
		stopTimes, err := fetchTripStopTimes(ctx, db, rep.tripID)
		if err != nil {
			return nil, fmt.Errorf("stop_times for trip %s: %w", rep.tripID, err)
		}
		if len(stopTimes) < 2 {
			continue
		}

		// The outbound representative trip defines the line schedule; any
		// direction fills in when the line only runs one way.
		if _, have := b.Schedule[route.Name]; !have || rep.direction == 0 {
			b.Schedule[route.Name] = buildSchedule(stopTimes, b.Stops)
		}

		points, err := fetchShapePoints(ctx, db, rep.shapeID)
		if err != nil {
			return nil, fmt.Errorf("shape %s: %w", rep.shapeID, err)
		}
		if len(points) == 0 {
			continue
		}
		key := route.Name + "_" + strconv.Itoa(rep.direction)
		b.Shapes[key] = gtfs.Shape{
			RouteID:   route.Name,
			Direction: rep.headsign,
			Points:    points,
		}
	}

	if len(b.Schedule) == 0 {
		return nil, fmt.Errorf("no usable trips for requested routes")
	}
	return b, nil
}

func fetchRoutes(ctx context.Context, db *sql.DB) (map[string]gtfs.Route, error) {
	q := `SELECT route_id,
                 COALESCE(route_short_name, route_id),
                 COALESCE(route_long_name, ''),
                 COALESCE(route_color::text, ''),
                 COALESCE(route_type::int, 0)
          FROM routes`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	routes := make(map[string]gtfs.Route)
	for rows.Next() {
		var r gtfs.Route
		if err := rows.Scan(&r.ID, &r.Name, &r.LongName, &r.Color, &r.Type); err != nil {
			return nil, err
		}
		if r.Color != "" && !strings.HasPrefix(r.Color, "#") {
			r.Color = "#" + r.Color
		}
		routes[r.ID] = r
	}
	return routes, rows.Err()
}

func fetchStops(ctx context.Context, db *sql.DB, b *gtfs.Bundle) error {
	latlon, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return fmt.Errorf("introspect stops columns: %w", err)
	}
	var q string
	if latlon["stop_lat"] && latlon["stop_lon"] {
		q = `SELECT stop_id, COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0) FROM stops`
	} else {
		loc, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
		if err != nil {
			return fmt.Errorf("introspect stops stop_loc: %w", err)
		}
		if !loc["stop_loc"] {
			return fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
		}
		q = `SELECT stop_id, COALESCE(stop_name, ''),
                    COALESCE(ST_Y(stop_loc::geometry), 0),
                    COALESCE(ST_X(stop_loc::geometry), 0)
             FROM stops`
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s gtfs.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng); err != nil {
			return err
		}
		b.Stops[s.ID] = s
	}
	return rows.Err()
}

type representativeTrip struct {
	tripID    string
	routeID   string
	direction int
	shapeID   string
	headsign  string
}

func fetchRepresentativeTrips(ctx context.Context, db *sql.DB) ([]representativeTrip, error) {
	q := `
SELECT DISTINCT ON (t.route_id, COALESCE(t.direction_id::int, 0))
       t.trip_id,
       t.route_id,
       COALESCE(t.direction_id::int, 0),
       COALESCE(t.shape_id, ''),
       COALESCE(t.trip_headsign, '')
FROM trips t
JOIN (SELECT trip_id, COUNT(*) AS n FROM stop_times GROUP BY trip_id) c
  ON c.trip_id = t.trip_id
ORDER BY t.route_id, COALESCE(t.direction_id::int, 0), c.n DESC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query representative trips: %w", err)
	}
	defer rows.Close()
	var reps []representativeTrip
	for rows.Next() {
		var r representativeTrip
		if err := rows.Scan(&r.tripID, &r.routeID, &r.direction, &r.shapeID, &r.headsign); err != nil {
			return nil, err
		}
		reps = append(reps, r)
	}
	return reps, rows.Err()
}

type tripStopTime struct {
	stopID       string
	arrivalSec   int
	departureSec int
}

func fetchTripStopTimes(ctx context.Context, db *sql.DB, tripID string) ([]tripStopTime, error) {
	q := `SELECT stop_id,
                 COALESCE(arrival_time::text, ''),
                 COALESCE(departure_time::text, '')
          FROM stop_times WHERE trip_id = $1 ORDER BY stop_sequence`
	rows, err := db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sts []tripStopTime
	for rows.Next() {
		var st tripStopTime
		var arr, dep string
		if err := rows.Scan(&st.stopID, &arr, &dep); err != nil {
			return nil, err
		}
		st.arrivalSec = parseDaySeconds(arr)
		st.departureSec = parseDaySeconds(dep)
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// buildSchedule turns a representative trip's stop sequence into per-segment
// travel times and straight-line distances.
func buildSchedule(stopTimes []tripStopTime, stops map[string]gtfs.Stop) gtfs.LineSchedule {
	var sched gtfs.LineSchedule
	for i := 1; i < len(stopTimes); i++ {
		prev, cur := stopTimes[i-1], stopTimes[i]
		travel := cur.arrivalSec - prev.departureSec
		if travel <= 0 {
			// Dwell-only or broken times; assume a minute.
			travel = 60
		}
		var dist float64
		from, okFrom := stops[prev.stopID]
		to, okTo := stops[cur.stopID]
		if okFrom && okTo {
			dist = geo.Haversine(geo.Point{Lat: from.Lat, Lng: from.Lng}, geo.Point{Lat: to.Lat, Lng: to.Lng})
		}
		sched.Segments = append(sched.Segments, gtfs.ScheduleSegment{
			FromStop:       prev.stopID,
			ToStop:         cur.stopID,
			TravelTimeSecs: travel,
			DistanceMeters: dist,
		})
	}
	return sched
}

func fetchShapePoints(ctx context.Context, db *sql.DB, shapeID string) ([]geo.PolyPoint, error) {
	if shapeID == "" {
		return nil, nil
	}
	latlon, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_lat", "shape_pt_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	var q string
	if latlon["shape_pt_lat"] && latlon["shape_pt_lon"] {
		q = `SELECT shape_pt_lat, shape_pt_lon, shape_pt_sequence, COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	} else {
		loc, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect shapes shape_pt_loc: %w", err)
		}
		if !loc["shape_pt_loc"] {
			return nil, fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
		}
		q = `SELECT ST_Y(shape_pt_loc::geometry),
                    ST_X(shape_pt_loc::geometry),
                    shape_pt_sequence,
                    COALESCE(shape_dist_traveled, 0)
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`
	}
	rows, err := db.QueryContext(ctx, q, shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []geo.PolyPoint
	for rows.Next() {
		var p geo.PolyPoint
		if err := rows.Scan(&p.Lat, &p.Lng, &p.Sequence, &p.Dist); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	fillCumulativeDistances(pts)
	return pts, nil
}

// fillCumulativeDistances ensures every point carries a monotonically
// increasing distance along the shape. Imports without shape_dist_traveled
// get haversine-accumulated distances instead.
func fillCumulativeDistances(pts []geo.PolyPoint) {
	if len(pts) == 0 {
		return
	}
	provided := false
	for _, p := range pts[1:] {
		if p.Dist > 0 {
			provided = true
			break
		}
	}
	if provided {
		prev := 0.0
		for i := range pts {
			if pts[i].Dist < prev {
				pts[i].Dist = prev
			}
			prev = pts[i].Dist
		}
		return
	}
	sum := 0.0
	pts[0].Dist = 0
	for i := 1; i < len(pts); i++ {
		sum += geo.Haversine(
			geo.Point{Lat: pts[i-1].Lat, Lng: pts[i-1].Lng},
			geo.Point{Lat: pts[i].Lat, Lng: pts[i].Lng},
		)
		pts[i].Dist = sum
	}
}

// parseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func parseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}
