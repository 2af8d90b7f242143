package devices

import (
	"encoding/json"
	"strings"
	"time"
)

// Status values a device can report or be assigned.
const (
	StatusConnected    = "connected"
	StatusOnline       = "online"
	StatusDisconnected = "disconnected"
)

// DisplayTimeLayout renders receipt times the way the dashboard shows them.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// Device is one sensor node known to the relay.
type Device struct {
	ID                 string
	Name               string
	Status             string
	Armed              bool
	LastMotionDistance *float64
	LastMotionTime     *time.Time
	LastSeen           time.Time
}

// MotionSample is the reading carried by a motion report.
type MotionSample struct {
	Distance float64
	At       time.Time
}

// Update describes the fields an inbound message supplies. Empty strings and a nil
// Motion leave the stored values untouched.
type Update struct {
	ID     string
	Name   string
	Status string
	Motion *MotionSample
	SeenAt time.Time
}

// IsLive reports whether status counts as connected for liveness purposes.
func IsLive(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusConnected, StatusOnline:
		return true
	default:
		return false
	}
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrInvalidInput
	}
	return nil
}

type deviceJSON struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Status             string   `json:"status"`
	Armed              bool     `json:"armed"`
	LastMotionDistance *float64 `json:"last_motion_distance"`
	LastMotionTime     *string  `json:"last_motion_time"`
	LastSeen           float64  `json:"last_seen"`
}

// MarshalJSON renders the device record shape served to the dashboard.
func (d Device) MarshalJSON() ([]byte, error) {
	out := deviceJSON{
		ID:                 d.ID,
		Name:               d.Name,
		Status:             d.Status,
		Armed:              d.Armed,
		LastMotionDistance: d.LastMotionDistance,
	}
	if d.LastMotionTime != nil {
		formatted := d.LastMotionTime.Local().Format(DisplayTimeLayout)
		out.LastMotionTime = &formatted
	}
	if !d.LastSeen.IsZero() {
		out.LastSeen = float64(d.LastSeen.UnixMilli()) / 1000
	}
	return json.Marshal(out)
}
