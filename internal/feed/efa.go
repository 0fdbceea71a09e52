package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultEFABaseURL = "https://efa.vrr.de/vrrstd/XSLT_DM_REQUEST"

// lineColors maps Cologne tram lines to their official colors.
var lineColors = map[string]string{
	"1": "#ed1c24", "3": "#009fe3", "4": "#f39200", "5": "#00963f",
	"7": "#e6007e", "9": "#c60c30", "12": "#a05e9e", "13": "#7fb6d9",
	"15": "#95c11f", "16": "#009fe3", "17": "#00963f", "18": "#009fe3",
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// LineColor returns the display color for a line label.
func LineColor(line string) string {
	clean := strings.Join(strings.Fields(line), "")
	if c, ok := lineColors[clean]; ok {
		return c
	}
	if strings.HasPrefix(clean, "S") {
		return "#00843d"
	}
	if digitsOnly.MatchString(clean) {
		return "#009fe3"
	}
	return "#666666"
}

// EFAClient fetches departures from the VRR EFA endpoint (Cologne/KVB).
type EFAClient struct {
	baseURL string
	client  *http.Client
	limit   int
}

func NewEFAClient(baseURL string) *EFAClient {
	if baseURL == "" {
		baseURL = defaultEFABaseURL
	}
	return &EFAClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limit:   50,
	}
}

// efaResponse mirrors only the parts of the EFA payload we consume. EFA
// serves hour/minute fields as strings.
type efaResponse struct {
	DepartureList []struct {
		Platform  string `json:"platform"`
		PointName string `json:"pointName"`
		DateTime  struct {
			Hour   string `json:"hour"`
			Minute string `json:"minute"`
		} `json:"dateTime"`
		RealDateTime *struct {
			Hour   string `json:"hour"`
			Minute string `json:"minute"`
		} `json:"realDateTime"`
		ServingLine struct {
			Number    string `json:"number"`
			Direction string `json:"direction"`
			DestStop  string `json:"destStop"`
			MOTType   any    `json:"motType"`
		} `json:"servingLine"`
	} `json:"departureList"`
}

// Departures implements Source against the EFA stateless departure monitor.
func (c *EFAClient) Departures(ctx context.Context, stationID string) ([]Departure, error) {
	params := url.Values{}
	params.Set("outputFormat", "JSON")
	params.Set("language", "de")
	params.Set("stateless", "1")
	params.Set("type_dm", "stop")
	params.Set("name_dm", stationID)
	params.Set("mode", "direct")
	params.Set("useRealtime", "1")
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("ptOptionsActive", "1")
	params.Set("mergeDep", "1")
	params.Set("maxTimeLoop", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("efa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("efa returned %d", resp.StatusCode)
	}

	var payload efaResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("efa decode: %w", err)
	}

	return normalizeEFA(payload), nil
}

func normalizeEFA(payload efaResponse) []Departure {
	departures := make([]Departure, 0, len(payload.DepartureList))
	for _, raw := range payload.DepartureList {
		plannedHour := atoiSafe(raw.DateTime.Hour)
		plannedMinute := atoiSafe(raw.DateTime.Minute)
		realtimeHour, realtimeMinute := plannedHour, plannedMinute
		isRealtime := raw.RealDateTime != nil
		if isRealtime {
			realtimeHour = atoiSafe(raw.RealDateTime.Hour)
			realtimeMinute = atoiSafe(raw.RealDateTime.Minute)
		}

		delay := (realtimeHour*60 + realtimeMinute) - (plannedHour*60 + plannedMinute)
		if delay < 0 {
			delay = 0
		}

		lineLabel := raw.ServingLine.Number
		if lineLabel == "" {
			lineLabel = "?"
		}
		direction := raw.ServingLine.Direction
		if direction == "" {
			direction = raw.ServingLine.DestStop
		}
		if direction == "" {
			direction = "Unbekannt"
		}

		platform := raw.Platform
		if platform == "" {
			platform = raw.PointName
		}

		departures = append(departures, Departure{
			Line:           lineLabel,
			Direction:      fixEncoding(direction),
			PlannedHour:    plannedHour,
			PlannedMinute:  plannedMinute,
			RealtimeHour:   realtimeHour,
			RealtimeMinute: realtimeMinute,
			DelayMinutes:   delay,
			Platform:       platform,
			Realtime:       isRealtime,
			Color:          LineColor(lineLabel),
		})
	}
	return departures
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// fixEncoding repairs EFA responses that arrive latin1-mangled, which shows
// up as "Ã¶"/"Ã¼" pairs in station names.
func fixEncoding(s string) string {
	if !strings.Contains(s, "Ã") {
		return s
	}
	bytes := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			// not a mangled latin1 string after all
			return s
		}
		bytes = append(bytes, byte(r))
	}
	return string(bytes)
}
