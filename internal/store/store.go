// Package store persists estimated vehicle positions to a local SQLite file.
// Each tracking cycle becomes one snapshot; the current table always reflects
// the latest cycle while history accumulates until pruned.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"transit-tracker/internal/tracker"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite connection with write serialization. SQLite allows a
// single writer; the mutex keeps pruning from racing the per-cycle writes.
type Store struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (or creates) the SQLite file with WAL mode enabled and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			log.Printf("store: failed to set %s: %v", pragma, err)
		}
	}

	s := &Store{conn: conn}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Record writes one tracking cycle: a snapshot row, an upsert per vehicle
// into vehicle_current, and an append into vehicle_history.
func (s *Store) Record(ctx context.Context, polledAt time.Time, vehicles []tracker.Vehicle) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshotID := uuid.New().String()
	polledAtStr := polledAt.UTC().Format(time.RFC3339)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (snapshot_id, polled_at_utc) VALUES (?, ?)",
		snapshotID, polledAtStr,
	); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}

	currentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_current (
			vehicle_key, snapshot_id, line, direction, latitude, longitude,
			progress, from_stop_id, to_stop_id, speed_kmh, delay_minutes,
			polled_at_utc, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (vehicle_key) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			line = excluded.line,
			direction = excluded.direction,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			progress = excluded.progress,
			from_stop_id = excluded.from_stop_id,
			to_stop_id = excluded.to_stop_id,
			speed_kmh = excluded.speed_kmh,
			delay_minutes = excluded.delay_minutes,
			polled_at_utc = excluded.polled_at_utc,
			updated_at = datetime('now')
	`)
	if err != nil {
		return "", fmt.Errorf("prepare current statement: %w", err)
	}
	defer currentStmt.Close()

	historyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_history (
			vehicle_key, snapshot_id, line, direction, latitude, longitude,
			progress, from_stop_id, to_stop_id, speed_kmh, delay_minutes,
			polled_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", fmt.Errorf("prepare history statement: %w", err)
	}
	defer historyStmt.Close()

	for _, v := range vehicles {
		args := []any{
			v.ID, snapshotID, v.Line, v.Direction, v.Lat, v.Lng,
			v.Progress, v.FromStop, v.ToStop, v.SpeedKmh, v.Delay,
			polledAtStr,
		}
		if _, err := currentStmt.ExecContext(ctx, args...); err != nil {
			return "", fmt.Errorf("upsert position %s: %w", v.ID, err)
		}
		if _, err := historyStmt.ExecContext(ctx, args...); err != nil {
			return "", fmt.Errorf("insert history %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return snapshotID, nil
}

// Prune deletes history rows and snapshots older than the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}

	queries := []struct {
		name  string
		query string
	}{
		{"vehicle_history", fmt.Sprintf("DELETE FROM vehicle_history WHERE datetime(polled_at_utc) < datetime('now', '-%d hours')", hours)},
		{"snapshots", fmt.Sprintf("DELETE FROM snapshots WHERE datetime(polled_at_utc) < datetime('now', '-%d hours')", hours)},
	}

	totalDeleted := 0
	for _, q := range queries {
		result, err := s.conn.ExecContext(ctx, q.query)
		if err != nil {
			return fmt.Errorf("prune %s: %w", q.name, err)
		}
		rows, _ := result.RowsAffected()
		totalDeleted += int(rows)
	}
	if totalDeleted > 0 {
		log.Printf("store: pruned %d records older than %d hours", totalDeleted, hours)
	}
	return nil
}

// HistoryPoint is one archived position of a vehicle.
type HistoryPoint struct {
	VehicleKey string    `json:"vehicleKey"`
	Line       string    `json:"line"`
	Direction  string    `json:"direction"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Progress   float64   `json:"progress"`
	PolledAt   time.Time `json:"polledAt"`
}

// History returns the archived positions of one vehicle key, newest first.
func (s *Store) History(ctx context.Context, vehicleKey string, limit int) ([]HistoryPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT vehicle_key, line, direction, latitude, longitude, progress, polled_at_utc
		FROM vehicle_history
		WHERE vehicle_key = ?
		ORDER BY polled_at_utc DESC
		LIMIT ?
	`, vehicleKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		var polledAt string
		if err := rows.Scan(&p.VehicleKey, &p.Line, &p.Direction, &p.Lat, &p.Lng, &p.Progress, &polledAt); err != nil {
			return nil, err
		}
		p.PolledAt, _ = time.Parse(time.RFC3339, polledAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CurrentCount returns the number of vehicles in the current table.
func (s *Store) CurrentCount(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vehicle_current").Scan(&n)
	return n, err
}
