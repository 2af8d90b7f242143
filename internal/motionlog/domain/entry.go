package motionlog

import (
	"fmt"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
)

// DefaultWindow is the number of entries kept in the live log.
const DefaultWindow = 50

// Entry is one received motion sample. Message is rendered once at insertion.
type Entry struct {
	ID          string    `json:"-"`
	ReceivedAt  time.Time `json:"-"`
	Timestamp   string    `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	Distance    float64   `json:"distance"`
	AlarmActive bool      `json:"alarm_active"`
	Message     string    `json:"message"`
}

// NewEntry builds an entry stamped with the server receipt time.
func NewEntry(id string, device devices.Device, distance float64, alarmActive bool, receivedAt time.Time) Entry {
	return Entry{
		ID:          id,
		ReceivedAt:  receivedAt,
		Timestamp:   receivedAt.Local().Format(devices.DisplayTimeLayout),
		DeviceID:    device.ID,
		Distance:    distance,
		AlarmActive: alarmActive,
		Message:     FormatMessage(device.Name, distance, alarmActive),
	}
}

// FormatMessage renders the human-readable log line.
func FormatMessage(name string, distance float64, alarmActive bool) string {
	if alarmActive {
		return fmt.Sprintf("ALARM: %s detected motion at %.1f cm", name, distance)
	}
	return fmt.Sprintf("%s detected motion at %.1f cm", name, distance)
}

// Store is the bounded in-memory motion log.
type Store interface {
	Append(entry Entry)
	Recent(limit int) []Entry
	Clear()
	Len() int
}
