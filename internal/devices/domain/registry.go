package devices

import "time"

// Registry holds the live device state keyed by id.
type Registry interface {
	// Register creates the device when absent. Existing devices keep their name and
	// only have their liveness refreshed; created reports which case applied.
	Register(id, name string, at time.Time) (device Device, created bool, err error)
	Upsert(update Update) (Device, error)
	Get(id string) (Device, error)
	List() []Device
	Clear()
	MarkStale(id string, cutoff time.Time) (Device, bool)
	ToggleArmed(id string) (Device, error)
	Restore(devices []Device) int
	Len() int
}
