package application

import (
	"context"
	"time"

	alarms "hemlarm-relay/internal/alarms/domain"
	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

// AlertNotifier delivers motion alerts to recipients.
type AlertNotifier interface {
	Notify(ctx context.Context, alert alarms.MotionAlert, recipients []alarms.Recipient) []alarms.Delivery
}

// DurableSink mirrors registry and log writes to external storage. Writes are
// best effort and never affect the caller's response.
type DurableSink interface {
	SaveDevice(ctx context.Context, device devices.Device) error
	AppendLog(ctx context.Context, entry motionlog.Entry) error
	ClearDevices(ctx context.Context) error
	ClearLogs(ctx context.Context) error
}

// DeviceLoader reads previously persisted devices.
type DeviceLoader interface {
	LoadDevices(ctx context.Context) ([]devices.Device, error)
}

// LogLoader reads the most recent persisted motion entries, oldest first.
type LogLoader interface {
	RecentLogs(ctx context.Context, limit int) ([]motionlog.Entry, error)
}

// Event types published to live subscribers.
const (
	EventDevice       = "device"
	EventMotion       = "motion"
	EventDevicesClear = "devices_cleared"
	EventLogsClear    = "logs_cleared"
)

// Event is a state change pushed to dashboard subscribers.
type Event struct {
	Type   string           `json:"type"`
	Device *devices.Device  `json:"device,omitempty"`
	Entry  *motionlog.Entry `json:"entry,omitempty"`
	At     time.Time        `json:"at"`
}

// EventPublisher fans state changes out to live subscribers. Publish must not block.
type EventPublisher interface {
	Publish(event Event)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
