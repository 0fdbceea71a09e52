package line

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"transit-tracker/internal/feed"
)

// Positions within this many percentage points of each other in the same
// direction are assumed to be the same physical vehicle sampled twice.
const dedupThresholdPct = 3

// Vehicle is a vehicle on the line, positioned 0-100% along the track.
// 0% is the first configured stop, 100% the last.
type Vehicle struct {
	ID                    string  `json:"id"`
	Direction             string  `json:"direction"`
	Position              float64 `json:"position"`
	SegmentIndex          int     `json:"segmentIndex"`
	SecondsUntilDeparture int     `json:"secondsUntilDeparture"`
	DepartureTime         string  `json:"departureTime"`
	Destination           string  `json:"destination"`
}

// IsInbound classifies a departure's direction text. Any configured inbound
// term contained in the string means the vehicle heads toward the last stop.
func (c *Config) IsInbound(direction string) bool {
	d := strings.ToLower(direction)
	for _, term := range c.InboundTerms {
		if strings.Contains(d, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// PositionFromTime maps elapsed seconds since the first stop to a position
// percentage along the line. Returns the position and the index of the
// segment it falls into.
func (c *Config) PositionFromTime(seconds float64) (float64, int) {
	elapsed := 0.0
	numStops := len(c.Stops)

	for i, seg := range c.Segments {
		segmentEnd := elapsed + float64(seg.TravelTime)
		if seconds <= segmentEnd {
			progress := (seconds - elapsed) / float64(seg.TravelTime)
			startPct := float64(i) / float64(numStops-1) * 100
			endPct := float64(i+1) / float64(numStops-1) * 100
			return startPct + (endPct-startPct)*progress, i
		}
		elapsed = segmentEnd
	}

	return 100, len(c.Segments) - 1
}

// Positions derives vehicle positions for all departures of this line as
// seen from the stop the viewer is at. Departures of other lines are
// ignored; vehicles that map outside the track are dropped; near-identical
// positions per direction are merged.
func (c *Config) Positions(departures []feed.Departure, selectedStopID string, now time.Time) []Vehicle {
	selectedIndex := c.StopIndex(selectedStopID)
	if selectedIndex == -1 {
		return nil
	}

	timeToSelected := float64(c.CumulativeTime(selectedIndex))
	timeSelectedToEnd := float64(c.TotalTime()) - timeToSelected

	var list []Vehicle
	for i, dep := range departures {
		if !c.MatchesLine(dep.Line) {
			continue
		}

		hour, minute := dep.RealtimeHour, dep.RealtimeMinute
		if !dep.Realtime && (hour == 0 && minute == 0) {
			hour, minute = dep.PlannedHour, dep.PlannedMinute
		}

		departureTime := time.Date(now.Year(), now.Month(), now.Day(),
			hour, minute, 0, 0, now.Location())
		// departures more than 12h in the past belong to the next day
		if departureTime.Sub(now) < -12*time.Hour {
			departureTime = departureTime.Add(24 * time.Hour)
		}

		untilDeparture := departureTime.Sub(now).Seconds()
		inbound := c.IsInbound(dep.Direction)

		var positionTime float64
		if untilDeparture > 0 {
			// vehicle still approaching the selected stop
			if inbound {
				away := math.Min(untilDeparture, timeToSelected)
				positionTime = timeToSelected - away
			} else {
				away := math.Min(untilDeparture, timeSelectedToEnd)
				positionTime = timeToSelected + away
			}
		} else {
			// already departed the selected stop
			since := -untilDeparture
			if inbound {
				positionTime = math.Min(timeToSelected+since, float64(c.TotalTime()))
			} else {
				positionTime = math.Max(0, timeToSelected-since)
			}
		}

		position, segIdx := c.PositionFromTime(positionTime)
		if position < 0 || position > 100 {
			continue
		}

		direction := c.OutboundName
		if inbound {
			direction = c.InboundName
		}

		list = append(list, Vehicle{
			ID:                    fmt.Sprintf("train-%d-%s-%02d%02d", i, direction, hour, minute),
			Direction:             direction,
			Position:              position,
			SegmentIndex:          segIdx,
			SecondsUntilDeparture: int(untilDeparture),
			DepartureTime:         fmt.Sprintf("%02d:%02d", hour, minute),
			Destination:           dep.Direction,
		})
	}

	return dedupe(list)
}

// dedupe merges vehicles of the same direction whose positions differ by
// less than the threshold.
func dedupe(vehicles []Vehicle) []Vehicle {
	var out []Vehicle
	for _, v := range vehicles {
		duplicate := false
		for _, kept := range out {
			if kept.Direction == v.Direction &&
				math.Abs(kept.Position-v.Position) < dedupThresholdPct {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, v)
		}
	}
	return out
}

// Incoming returns the up-to-four soonest still-future arrivals for the
// selected stop, soonest first.
func Incoming(vehicles []Vehicle) []Vehicle {
	var future []Vehicle
	for _, v := range vehicles {
		if v.SecondsUntilDeparture > 0 {
			future = append(future, v)
		}
	}
	sort.Slice(future, func(i, j int) bool {
		return future[i].SecondsUntilDeparture < future[j].SecondsUntilDeparture
	})
	if len(future) > 4 {
		future = future[:4]
	}
	return future
}
