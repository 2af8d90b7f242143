package alarms

import "time"

// Channel names.
const (
	ChannelPush    = "push"
	ChannelWebhook = "webhook"
)

// Delivery statuses.
const (
	DeliverySent       = "sent"
	DeliveryFailed     = "failed"
	DeliverySuppressed = "suppressed"
)

// MotionAlert is the payload for an actionable motion event.
type MotionAlert struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Distance   float64   `json:"distance"`
	DetectedAt time.Time `json:"detected_at"`
	Message    string    `json:"message"`
}

// Recipient is one configured notification target. Address is channel specific:
// a user token for push, an endpoint URL for webhook.
type Recipient struct {
	ID      string `json:"id" yaml:"id"`
	Channel string `json:"channel" yaml:"channel"`
	Address string `json:"address" yaml:"address"`
}

// Delivery records the outcome for one recipient.
type Delivery struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Channel   string    `json:"channel"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// OK reports whether the delivery reached the provider.
func (d Delivery) OK() bool {
	return d.Status == DeliverySent
}
