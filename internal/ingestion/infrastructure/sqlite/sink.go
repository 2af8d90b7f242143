package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

// Sink persists devices and motion events to a local SQLite file. Times are
// stored as unix milliseconds.
type Sink struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the tables exist.
func Open(path string) (*Sink, error) {
	if path == "" {
		return nil, errors.New("sqlite sink: empty path")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	sink, err := NewSink(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// NewSink wraps an open database and creates the relay tables.
func NewSink(db *sql.DB) (*Sink, error) {
	if db == nil {
		return nil, errors.New("sqlite sink: nil db")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		armed INTEGER NOT NULL DEFAULT 1,
		last_motion_distance REAL,
		last_motion_time INTEGER,
		last_seen INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS motion_events (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		distance REAL NOT NULL,
		alarm_active INTEGER NOT NULL,
		message TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_motion_events_received_at ON motion_events(received_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite sink: create tables: %w", err)
	}
	return &Sink{db: db}, nil
}

// DB exposes the underlying handle for metrics and audit wiring.
func (s *Sink) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

// SaveDevice upserts a device unless the stored row was seen more recently.
func (s *Sink) SaveDevice(ctx context.Context, device devices.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	var motionTime sql.NullInt64
	if device.LastMotionTime != nil {
		motionTime = sql.NullInt64{Int64: device.LastMotionTime.UnixMilli(), Valid: true}
	}
	var distance sql.NullFloat64
	if device.LastMotionDistance != nil {
		distance = sql.NullFloat64{Float64: *device.LastMotionDistance, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO devices (id, name, status, armed, last_motion_distance, last_motion_time, last_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		status = excluded.status,
		armed = excluded.armed,
		last_motion_distance = excluded.last_motion_distance,
		last_motion_time = excluded.last_motion_time,
		last_seen = excluded.last_seen
	WHERE excluded.last_seen >= devices.last_seen`,
		device.ID, device.Name, device.Status, device.Armed, distance, motionTime, device.LastSeen.UnixMilli())
	return err
}

// AppendLog inserts a motion event, ignoring replays of the same id.
func (s *Sink) AppendLog(ctx context.Context, entry motionlog.Entry) error {
	if entry.ID == "" || entry.DeviceID == "" {
		return errors.New("sqlite sink: entry id and device id required")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO motion_events (id, device_id, distance, alarm_active, message, received_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, entry.Distance, entry.AlarmActive, entry.Message, entry.ReceivedAt.UnixMilli())
	return err
}

// ClearDevices deletes every device row.
func (s *Sink) ClearDevices(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices`)
	return err
}

// ClearLogs deletes every motion event row.
func (s *Sink) ClearLogs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM motion_events`)
	return err
}

// LoadDevices returns all stored devices ordered by id.
func (s *Sink) LoadDevices(ctx context.Context) ([]devices.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, name, status, armed, last_motion_distance, last_motion_time, last_seen
	FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var (
			device     devices.Device
			distance   sql.NullFloat64
			motionTime sql.NullInt64
			lastSeen   int64
		)
		if err := rows.Scan(&device.ID, &device.Name, &device.Status, &device.Armed, &distance, &motionTime, &lastSeen); err != nil {
			return nil, err
		}
		device.LastSeen = time.UnixMilli(lastSeen)
		if distance.Valid {
			value := distance.Float64
			device.LastMotionDistance = &value
		}
		if motionTime.Valid {
			at := time.UnixMilli(motionTime.Int64)
			device.LastMotionTime = &at
		}
		result = append(result, device)
	}
	return result, rows.Err()
}

// CountLogs reports the number of stored motion events.
func (s *Sink) CountLogs(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM motion_events`).Scan(&count)
	return count, err
}

// RecentLogs returns the newest limit motion events, oldest first.
func (s *Sink) RecentLogs(ctx context.Context, limit int) ([]motionlog.Entry, error) {
	if limit <= 0 {
		limit = motionlog.DefaultWindow
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, device_id, distance, alarm_active, message, received_at
	FROM (
		SELECT id, device_id, distance, alarm_active, message, received_at
		FROM motion_events
		ORDER BY received_at DESC
		LIMIT ?
	)
	ORDER BY received_at ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []motionlog.Entry
	for rows.Next() {
		var (
			entry      motionlog.Entry
			receivedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Distance, &entry.AlarmActive, &entry.Message, &receivedAt); err != nil {
			return nil, err
		}
		entry.ReceivedAt = time.UnixMilli(receivedAt)
		entry.Timestamp = entry.ReceivedAt.Local().Format(devices.DisplayTimeLayout)
		result = append(result, entry)
	}
	return result, rows.Err()
}
