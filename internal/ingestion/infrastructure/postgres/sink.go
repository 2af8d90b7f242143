package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

//go:embed schema.sql
var schema string

// Sink mirrors devices and motion events to Postgres. The motion table is
// unbounded; only the in-memory window is capped.
type Sink struct {
	db *sql.DB
}

// NewSink constructs a Postgres sink.
func NewSink(db *sql.DB) (*Sink, error) {
	if db == nil {
		return nil, errors.New("postgres sink: nil db")
	}
	return &Sink{db: db}, nil
}

// EnsureSchema creates the relay tables when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveDevice upserts a device. Rows already holding a newer last_seen are kept.
func (s *Sink) SaveDevice(ctx context.Context, device devices.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO devices (
	id, name, status, armed, last_motion_distance, last_motion_time, last_seen, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	status = EXCLUDED.status,
	armed = EXCLUDED.armed,
	last_motion_distance = EXCLUDED.last_motion_distance,
	last_motion_time = EXCLUDED.last_motion_time,
	last_seen = EXCLUDED.last_seen,
	updated_at = EXCLUDED.updated_at
WHERE devices.last_seen <= EXCLUDED.last_seen`,
		device.ID, device.Name, device.Status, device.Armed,
		nullFloat(device.LastMotionDistance), nullTime(device.LastMotionTime),
		device.LastSeen.UTC(), time.Now().UTC())
	return err
}

// AppendLog inserts a motion event; replays of the same id are ignored.
func (s *Sink) AppendLog(ctx context.Context, entry motionlog.Entry) error {
	if entry.ID == "" || entry.DeviceID == "" {
		return errors.New("postgres sink: entry id and device id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO motion_events (id, device_id, distance, alarm_active, message, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.DeviceID, entry.Distance, entry.AlarmActive, entry.Message, entry.ReceivedAt.UTC())
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

// LoadDevices reads all persisted devices ordered by id.
func (s *Sink) LoadDevices(ctx context.Context) ([]devices.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, status, armed, last_motion_distance, last_motion_time, last_seen
FROM devices
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var (
			device     devices.Device
			distance   sql.NullFloat64
			motionTime sql.NullTime
		)
		if err := rows.Scan(&device.ID, &device.Name, &device.Status, &device.Armed, &distance, &motionTime, &device.LastSeen); err != nil {
			return nil, err
		}
		if distance.Valid {
			value := distance.Float64
			device.LastMotionDistance = &value
		}
		if motionTime.Valid {
			at := motionTime.Time
			device.LastMotionTime = &at
		}
		result = append(result, device)
	}
	return result, rows.Err()
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
	LIMIT $1
) recent
ORDER BY received_at ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []motionlog.Entry
	for rows.Next() {
		var entry motionlog.Entry
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Distance, &entry.AlarmActive, &entry.Message, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.ReceivedAt.Local().Format(devices.DisplayTimeLayout)
		result = append(result, entry)
	}
	return result, rows.Err()
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
