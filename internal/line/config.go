// Package line tracks vehicles on a single named line without shape
// geometry: position is a purely topological 0-100% along an ordered stop
// list, derived from cumulative inter-stop travel times.
package line

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// StopConfig is one station on the line, in track order.
type StopConfig struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Short string `toml:"short"`
}

// SegmentConfig is the estimated travel time between two adjacent stops.
type SegmentConfig struct {
	From       int `toml:"from"`
	To         int `toml:"to"`
	TravelTime int `toml:"travel_time"` // seconds
}

// Config describes a line's topology. Shipped as a TOML file; Linie 5
// (Butzweilerhof - Heumarkt) is the default.
type Config struct {
	Name  string `toml:"name"`
	Color string `toml:"color"`

	// Aliases the upstream uses for this line's number ("5", "Linie 5", "STR 5").
	Aliases []string `toml:"aliases"`

	// Direction strings containing any of these terms are classified as
	// inbound toward the last stop.
	InboundTerms []string `toml:"inbound_terms"`

	// Display names for the two directions.
	InboundName  string `toml:"inbound_name"`
	OutboundName string `toml:"outbound_name"`

	Stops    []StopConfig    `toml:"stops"`
	Segments []SegmentConfig `toml:"segments"`
}

// LoadConfig reads and validates a line topology from a TOML file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("line config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Stops) < 2 {
		return fmt.Errorf("need at least 2 stops, got %d", len(c.Stops))
	}
	if len(c.Segments) != len(c.Stops)-1 {
		return fmt.Errorf("%d stops require %d segments, got %d",
			len(c.Stops), len(c.Stops)-1, len(c.Segments))
	}
	for i, seg := range c.Segments {
		if seg.TravelTime <= 0 {
			return fmt.Errorf("segment %d has non-positive travel time", i)
		}
	}
	return nil
}

// StopIndex returns the index of a stop ID on the line, or -1.
func (c *Config) StopIndex(stopID string) int {
	for i, s := range c.Stops {
		if s.ID == stopID {
			return i
		}
	}
	return -1
}

// CumulativeTime is the travel time in seconds from the first stop to the
// stop at the given index.
func (c *Config) CumulativeTime(stopIndex int) int {
	total := 0
	for i := 0; i < stopIndex && i < len(c.Segments); i++ {
		total += c.Segments[i].TravelTime
	}
	return total
}

// TotalTime is the end-to-end travel time in seconds.
func (c *Config) TotalTime() int {
	return c.CumulativeTime(len(c.Stops) - 1)
}

// MatchesLine reports whether an upstream line label refers to this line.
func (c *Config) MatchesLine(label string) bool {
	for _, a := range c.Aliases {
		if a == label {
			return true
		}
	}
	return false
}
