// Command import-gtfs converts a GTFS feed directory into the JSON bundle
// the tracker loads at startup. One representative trip per route and
// direction supplies the segment schedule and the (simplified) shape.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/gtfs"
)

func main() {
	gtfsDir := flag.String("gtfs", "", "directory containing the extracted GTFS feed")
	outDir := flag.String("out", "data", "output directory for the JSON bundle")
	lines := flag.String("lines", "", "comma-separated route short names to keep (empty = all)")
	tolerance := flag.Float64("tolerance", 0.0001, "Douglas-Peucker tolerance in degrees for shape simplification")
	flag.Parse()

	if *gtfsDir == "" {
		log.Fatal("-gtfs is required")
	}

	wanted := map[string]bool{}
	for _, l := range strings.Split(*lines, ",") {
		if s := strings.TrimSpace(l); s != "" {
			wanted[s] = true
		}
	}

	bundle, err := build(*gtfsDir, wanted, *tolerance)
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	if err := gtfs.WriteBundle(*outDir, bundle); err != nil {
		log.Fatalf("write bundle: %v", err)
	}
	log.Printf("wrote bundle to %s: %d routes, %d stops, %d shapes",
		*outDir, len(bundle.Routes), len(bundle.Stops), len(bundle.Shapes))
}

type trip struct {
	id        string
	routeID   string
	direction int
	shapeID   string
	headsign  string
	stopCount int
}

type stopTime struct {
	sequence     int
	stopID       string
	arrivalSec   int
	departureSec int
}

type shapePt struct {
	seq      int
	lat, lng float64
}

func build(dir string, wanted map[string]bool, tolerance float64) (*gtfs.Bundle, error) {
	b := &gtfs.Bundle{
		Routes:   make(map[string]gtfs.Route),
		Stops:    make(map[string]gtfs.Stop),
		Shapes:   make(map[string]gtfs.Shape),
		Schedule: make(map[string]gtfs.LineSchedule),
	}

	routesByID := make(map[string]gtfs.Route)
	err := forEachRow(filepath.Join(dir, "routes.txt"), func(row map[string]string) error {
		r := gtfs.Route{
			ID:       row["route_id"],
			Name:     row["route_short_name"],
			LongName: row["route_long_name"],
			Color:    row["route_color"],
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		if r.Color != "" && !strings.HasPrefix(r.Color, "#") {
			r.Color = "#" + r.Color
		}
		r.Type, _ = strconv.Atoi(row["route_type"])
		if len(wanted) > 0 && !wanted[r.Name] {
			return nil
		}
		routesByID[r.ID] = r
		b.Routes[r.Name] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(b.Routes) == 0 {
		return nil, fmt.Errorf("no matching routes in %s", dir)
	}

	err = forEachRow(filepath.Join(dir, "stops.txt"), func(row map[string]string) error {
		lat, _ := strconv.ParseFloat(row["stop_lat"], 64)
		lng, _ := strconv.ParseFloat(row["stop_lon"], 64)
		b.Stops[row["stop_id"]] = gtfs.Stop{
			ID:   row["stop_id"],
			Name: row["stop_name"],
			Lat:  lat,
			Lng:  lng,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	trips := make(map[string]*trip)
	err = forEachRow(filepath.Join(dir, "trips.txt"), func(row map[string]string) error {
		if _, ok := routesByID[row["route_id"]]; !ok {
			return nil
		}
		d, _ := strconv.Atoi(row["direction_id"])
		trips[row["trip_id"]] = &trip{
			id:        row["trip_id"],
			routeID:   row["route_id"],
			direction: d,
			shapeID:   row["shape_id"],
			headsign:  row["trip_headsign"],
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// First pass over stop_times: count rows per kept trip.
	err = forEachRow(filepath.Join(dir, "stop_times.txt"), func(row map[string]string) error {
		if t, ok := trips[row["trip_id"]]; ok {
			t.stopCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Representative trip per (route, direction): the one with most stops.
	reps := make(map[string]*trip)
	for _, t := range trips {
		key := t.routeID + "_" + strconv.Itoa(t.direction)
		if cur, ok := reps[key]; !ok || t.stopCount > cur.stopCount {
			reps[key] = t
		}
	}
	repByTripID := make(map[string]*trip, len(reps))
	for _, t := range reps {
		repByTripID[t.id] = t
	}

	// Second pass: collect stop_times for the representative trips only.
	tripStopTimes := make(map[string][]stopTime)
	err = forEachRow(filepath.Join(dir, "stop_times.txt"), func(row map[string]string) error {
		if _, ok := repByTripID[row["trip_id"]]; !ok {
			return nil
		}
		seq, _ := strconv.Atoi(row["stop_sequence"])
		tripStopTimes[row["trip_id"]] = append(tripStopTimes[row["trip_id"]], stopTime{
			sequence:     seq,
			stopID:       row["stop_id"],
			arrivalSec:   parseDaySeconds(row["arrival_time"]),
			departureSec: parseDaySeconds(row["departure_time"]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	neededShapes := make(map[string]bool)
	for _, t := range reps {
		if t.shapeID != "" {
			neededShapes[t.shapeID] = true
		}
	}
	rawShapes := make(map[string][]shapePt)
	if _, statErr := os.Stat(filepath.Join(dir, "shapes.txt")); statErr == nil {
		err = forEachRow(filepath.Join(dir, "shapes.txt"), func(row map[string]string) error {
			if !neededShapes[row["shape_id"]] {
				return nil
			}
			seq, _ := strconv.Atoi(row["shape_pt_sequence"])
			lat, _ := strconv.ParseFloat(row["shape_pt_lat"], 64)
			lng, _ := strconv.ParseFloat(row["shape_pt_lon"], 64)
			rawShapes[row["shape_id"]] = append(rawShapes[row["shape_id"]], shapePt{seq: seq, lat: lat, lng: lng})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for _, t := range reps {
		route := routesByID[t.routeID]
		sts := tripStopTimes[t.id]
		sort.Slice(sts, func(i, j int) bool { return sts[i].sequence < sts[j].sequence })
		if len(sts) < 2 {
			continue
		}

		if _, have := b.Schedule[route.Name]; !have || t.direction == 0 {
			b.Schedule[route.Name] = buildSchedule(sts, b.Stops)
		}

		raw := rawShapes[t.shapeID]
		if len(raw) == 0 {
			continue
		}
		sort.Slice(raw, func(i, j int) bool { return raw[i].seq < raw[j].seq })
		points := make([]geo.Point, len(raw))
		for i, p := range raw {
			points[i] = geo.Point{Lat: p.lat, Lng: p.lng}
		}
		points = geo.Simplify(points, tolerance)

		poly := make([]geo.PolyPoint, len(points))
		dist := 0.0
		for i, p := range points {
			if i > 0 {
				dist += geo.Haversine(points[i-1], p)
			}
			poly[i] = geo.PolyPoint{Lat: p.Lat, Lng: p.Lng, Dist: dist, Sequence: i}
		}
		b.Shapes[route.Name+"_"+strconv.Itoa(t.direction)] = gtfs.Shape{
			RouteID:   route.Name,
			Direction: t.headsign,
			Points:    poly,
		}
	}

	if len(b.Schedule) == 0 {
		return nil, fmt.Errorf("no usable trips for requested routes")
	}
	return b, nil
}

func buildSchedule(sts []stopTime, stops map[string]gtfs.Stop) gtfs.LineSchedule {
	var sched gtfs.LineSchedule
	for i := 1; i < len(sts); i++ {
		prev, cur := sts[i-1], sts[i]
		travel := cur.arrivalSec - prev.departureSec
		if travel <= 0 {
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

// forEachRow streams a GTFS CSV file, calling fn with a header-keyed map per
// record.
func forEachRow(path string, fn func(map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("%s: read header: %w", filepath.Base(path), err)
	}
	// Strip the UTF-8 BOM some feeds carry on the first column
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	row := make(map[string]string, len(header))
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		for k := range row {
			delete(row, k)
		}
		for i, col := range header {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// parseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func parseDaySeconds(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
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
		return 0
	}
	return total
}
