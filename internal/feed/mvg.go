package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMVGBaseURL = "https://www.mvg.de/api/bgw-pt/v3"

// MVGClient fetches departures from the Munich MVG v3 API.
type MVGClient struct {
	baseURL  string
	client   *http.Client
	location *time.Location
}

func NewMVGClient(baseURL string, loc *time.Location) *MVGClient {
	if baseURL == "" {
		baseURL = defaultMVGBaseURL
	}
	if loc == nil {
		loc = time.Local
	}
	return &MVGClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		location: loc,
	}
}

// mvgDeparture mirrors the MVG v3 departure entry. Times are epoch
// milliseconds.
type mvgDeparture struct {
	PlannedDepartureTime  int64  `json:"plannedDepartureTime"`
	RealtimeDepartureTime int64  `json:"realtimeDepartureTime"`
	DelayInMinutes        int    `json:"delayInMinutes"`
	Label                 string `json:"label"`
	Destination           string `json:"destination"`
	TransportType         string `json:"transportType"`
	Platform              any    `json:"platform"`
	Cancelled             bool   `json:"cancelled"`
	Realtime              bool   `json:"realtime"`
}

// Departures implements Source against MVG's globalId departure endpoint.
func (c *MVGClient) Departures(ctx context.Context, stationID string) ([]Departure, error) {
	u := fmt.Sprintf("%s/departures?globalId=%s&limit=200&offsetInMinutes=0",
		c.baseURL, url.QueryEscape(stationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TransitMonitor/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mvg request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mvg returned %d", resp.StatusCode)
	}

	var raw []mvgDeparture
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("mvg decode: %w", err)
	}

	return c.normalize(raw), nil
}

func (c *MVGClient) normalize(raw []mvgDeparture) []Departure {
	departures := make([]Departure, 0, len(raw))
	for _, dep := range raw {
		planned := time.UnixMilli(dep.PlannedDepartureTime).In(c.location)
		realtime := planned
		if dep.RealtimeDepartureTime != 0 {
			realtime = time.UnixMilli(dep.RealtimeDepartureTime).In(c.location)
		}

		departures = append(departures, Departure{
			Line:           mvgLineLabel(dep.Label, dep.TransportType),
			Direction:      dep.Destination,
			PlannedHour:    planned.Hour(),
			PlannedMinute:  planned.Minute(),
			RealtimeHour:   realtime.Hour(),
			RealtimeMinute: realtime.Minute(),
			DelayMinutes:   dep.DelayInMinutes,
			Platform:       platformLabel(dep.Platform),
			Cancelled:      dep.Cancelled,
			Realtime:       dep.Realtime || dep.RealtimeDepartureTime != 0,
			Product:        dep.TransportType,
		})
	}
	return departures
}

// mvgLineLabel prefixes U-Bahn and S-Bahn labels so "6" becomes "U6".
func mvgLineLabel(label, transportType string) string {
	switch transportType {
	case "UBAHN":
		return "U" + strings.TrimPrefix(label, "U")
	case "SBAHN":
		return "S" + strings.TrimPrefix(label, "S")
	}
	return label
}

// platformLabel tolerates the MVG platform field being a number or string.
func platformLabel(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case float64:
		return fmt.Sprintf("%d", int(p))
	}
	return ""
}
