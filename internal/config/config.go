package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// GTFS bundle source: either a JSON bundle directory or a Postgres
	// cluster carrying GTFS imports. The JSON directory wins when both are
	// set.
	GTFSDataDir string
	DatabaseURL string
	City        string

	// Stations polled for departures and the lines kept on the map.
	Stations       []string
	MonitoredLines []string
	FeedSource     string // efa | mvg | dbrest

	PollInterval time.Duration

	NATSURL         string
	LogNATSSubjects bool

	HTTPAddr    string
	MetricsAddr string

	SQLitePath     string
	HistoryMaxAge  time.Duration
	LineConfigPath string
	LineStopID     string

	Location *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.GTFSDataDir = os.Getenv("GTFS_DATA_DIR")

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.DatabaseURL = dsn

	if cfg.GTFSDataDir == "" && cfg.DatabaseURL == "" {
		return nil, errors.New("either GTFS_DATA_DIR or DATABASE_URL/PG* must be set")
	}

	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))

	cfg.Stations = splitList(os.Getenv("STATIONS"))
	if len(cfg.Stations) == 0 {
		return nil, errors.New("STATIONS must list at least one station ID")
	}
	cfg.MonitoredLines = splitList(os.Getenv("LINES"))

	cfg.FeedSource = strings.ToLower(getenvDefault("FEED_SOURCE", "efa"))
	switch cfg.FeedSource {
	case "efa", "mvg", "dbrest":
	default:
		return nil, fmt.Errorf("invalid FEED_SOURCE: %q", cfg.FeedSource)
	}

	// Poll interval
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PollInterval = 10 * time.Second
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// SQLite history (empty disables recording)
	cfg.SQLitePath = os.Getenv("SQLITE_PATH")
	if v := os.Getenv("HISTORY_MAX_AGE_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid HISTORY_MAX_AGE_HOURS: %q", v)
		}
		cfg.HistoryMaxAge = time.Duration(h) * time.Hour
	} else {
		cfg.HistoryMaxAge = 24 * time.Hour
	}

	// Single-line view (empty disables the line watcher)
	cfg.LineConfigPath = os.Getenv("LINE_CONFIG")
	cfg.LineStopID = os.Getenv("LINE_STOP_ID")
	if cfg.LineConfigPath != "" && cfg.LineStopID == "" {
		return nil, errors.New("LINE_CONFIG requires LINE_STOP_ID")
	}

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
