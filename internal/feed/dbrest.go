package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"
)

const (
	defaultDBRestBaseURL = "https://v6.db.transport.rest"

	// db.transport.rest allows 100 requests per minute, one per 600ms.
	dbRestMinInterval = 600 * time.Millisecond

	dbRestCacheTTL = 30 * time.Second
	dbRestCacheMax = 100
)

// DBRestClient fetches nationwide departures from v6.db.transport.rest.
// Responses are cached briefly and requests are gated through a rate
// limiter, since the upstream enforces a strict per-minute budget.
type DBRestClient struct {
	baseURL  string
	client   *http.Client
	limiter  *RateLimiter
	location *time.Location

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	departures []Departure
	fetched    time.Time
}

func NewDBRestClient(baseURL string, loc *time.Location) *DBRestClient {
	if baseURL == "" {
		baseURL = defaultDBRestBaseURL
	}
	if loc == nil {
		loc = time.Local
	}
	return &DBRestClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 20 * time.Second},
		limiter:  NewRateLimiter(dbRestMinInterval),
		location: loc,
		cache:    make(map[string]cacheEntry),
	}
}

// dbRestDeparture mirrors the upstream departure entry; times are ISO
// strings, delay is in seconds.
type dbRestDeparture struct {
	When        string `json:"when"`
	PlannedWhen string `json:"plannedWhen"`
	Delay       *int   `json:"delay"`
	Platform    string `json:"platform"`
	Cancelled   bool   `json:"cancelled"`
	Direction   string `json:"direction"`
	Line        struct {
		Name        string `json:"name"`
		FahrtNr     string `json:"fahrtNr"`
		Product     string `json:"product"`
		ProductName string `json:"productName"`
	} `json:"line"`
}

// Departures implements Source. Fresh cache entries are served without a
// request; a 429 falls back to the stale entry when one exists.
func (c *DBRestClient) Departures(ctx context.Context, stationID string) ([]Departure, error) {
	if cached, ok := c.fromCache(stationID, dbRestCacheTTL); ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/stops/%s/departures?duration=60&results=300",
		c.baseURL, url.PathEscape(stationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TransitMonitor/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("db rest request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if stale, ok := c.fromCache(stationID, dbRestCacheTTL*2); ok {
			log.Printf("feed: db rest rate limited, serving stale cache for %s", stationID)
			return stale, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("db rest returned %d", resp.StatusCode)
	}

	var raw []dbRestDeparture
	// the endpoint answers either a bare array or {departures: [...]}
	var wrapper struct {
		Departures []dbRestDeparture `json:"departures"`
	}
	dec := json.NewDecoder(resp.Body)
	var probe json.RawMessage
	if err := dec.Decode(&probe); err != nil {
		return nil, fmt.Errorf("db rest decode: %w", err)
	}
	if len(probe) > 0 && probe[0] == '[' {
		if err := json.Unmarshal(probe, &raw); err != nil {
			return nil, fmt.Errorf("db rest decode list: %w", err)
		}
	} else {
		if err := json.Unmarshal(probe, &wrapper); err != nil {
			return nil, fmt.Errorf("db rest decode wrapper: %w", err)
		}
		raw = wrapper.Departures
	}

	departures := c.normalize(raw)
	c.store(stationID, departures)
	return departures, nil
}

func (c *DBRestClient) normalize(raw []dbRestDeparture) []Departure {
	departures := make([]Departure, 0, len(raw))
	for _, dep := range raw {
		if dep.When == "" && dep.PlannedWhen == "" {
			continue
		}

		planned, errP := time.Parse(time.RFC3339, dep.PlannedWhen)
		realtime := planned
		isRealtime := false
		if dep.When != "" {
			if t, err := time.Parse(time.RFC3339, dep.When); err == nil {
				realtime = t
				isRealtime = true
			}
		}
		if errP != nil {
			if !isRealtime {
				continue
			}
			planned = realtime
		}
		planned = planned.In(c.location)
		realtime = realtime.In(c.location)

		delayMinutes := 0
		if dep.Delay != nil {
			delayMinutes = int(math.Round(float64(*dep.Delay) / 60))
		}

		lineLabel := dep.Line.Name
		if lineLabel == "" {
			lineLabel = dep.Line.FahrtNr
		}
		if lineLabel == "" {
			lineLabel = "Unbekannt"
		}

		departures = append(departures, Departure{
			Line:           lineLabel,
			Direction:      dep.Direction,
			PlannedHour:    planned.Hour(),
			PlannedMinute:  planned.Minute(),
			RealtimeHour:   realtime.Hour(),
			RealtimeMinute: realtime.Minute(),
			DelayMinutes:   delayMinutes,
			Platform:       dep.Platform,
			Cancelled:      dep.Cancelled,
			Realtime:       isRealtime,
			Product:        dep.Line.Product,
		})
	}
	return departures
}

func (c *DBRestClient) fromCache(stationID string, maxAge time.Duration) ([]Departure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[stationID]
	if !ok || time.Since(entry.fetched) > maxAge {
		return nil, false
	}
	return entry.departures, true
}

func (c *DBRestClient) store(stationID string, departures []Departure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[stationID] = cacheEntry{departures: departures, fetched: time.Now()}
	if len(c.cache) <= dbRestCacheMax {
		return
	}

	// evict oldest entries first
	type aged struct {
		key     string
		fetched time.Time
	}
	entries := make([]aged, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, aged{k, v.fetched})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].fetched.Before(entries[j].fetched) })
	for _, e := range entries[:len(c.cache)-dbRestCacheMax+10] {
		delete(c.cache, e.key)
	}
}
