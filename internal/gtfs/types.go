package gtfs

import "transit-tracker/internal/geo"

// Route is static reference data for one line, keyed by its line number.
type Route struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longName"`
	Color    string `json:"color"`
	Type     int    `json:"type"`
}

// Stop is an upstream station. Identity is the ID string issued by the
// transit API.
type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Shape is the polyline of one (route, direction) pair. Points carry
// cumulative distance along the shape.
type Shape struct {
	RouteID   string          `json:"routeId"`
	Direction string          `json:"direction"`
	Points    []geo.PolyPoint `json:"points"`
}

// ScheduleSegment is the typical travel time between two adjacent stops,
// taken from one representative trip of the line. It is shared across all
// trips of that line regardless of time of day.
type ScheduleSegment struct {
	FromStop       string  `json:"from_stop"`
	ToStop         string  `json:"to_stop"`
	TravelTimeSecs int     `json:"travel_time_seconds"`
	DistanceMeters float64 `json:"distance_meters"`
}

// LineSchedule is the ordered segment list for a line.
type LineSchedule struct {
	Segments []ScheduleSegment `json:"segments"`
}

// TotalTime returns the sum of all segment travel times in seconds.
func (s LineSchedule) TotalTime() int {
	total := 0
	for _, seg := range s.Segments {
		total += seg.TravelTimeSecs
	}
	return total
}

// Bundle is the complete reference data set for one city. It is loaded once
// per session and treated as read-only afterwards; trackers share it without
// copying.
type Bundle struct {
	Routes   map[string]Route        `json:"routes"`
	Stops    map[string]Stop         `json:"stops"`
	Shapes   map[string]Shape        `json:"shapes"`
	Schedule map[string]LineSchedule `json:"schedule"`
}
