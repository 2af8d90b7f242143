package memory

import (
	"strings"
	"sync"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
)

// Registry is a mutex-guarded, process-wide device registry.
// List preserves first-seen order.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*devices.Device
	order   []string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*devices.Device)}
}

// Register creates the device when absent; an existing device keeps its name.
func (r *Registry) Register(id, name string, at time.Time) (devices.Device, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return devices.Device{}, false, devices.ErrInvalidInput
	}
	at = atOrNow(at)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[id]; ok {
		touch(existing, at)
		existing.Status = devices.StatusConnected
		return clone(existing), false, nil
	}
	device := r.insertLocked(id, name, at)
	device.Status = devices.StatusConnected
	return clone(device), true, nil
}

// Upsert creates or updates a device from an inbound message and refreshes LastSeen.
func (r *Registry) Upsert(update devices.Update) (devices.Device, error) {
	id := strings.TrimSpace(update.ID)
	if id == "" {
		return devices.Device{}, devices.ErrInvalidInput
	}
	at := atOrNow(update.SeenAt)

	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		device = r.insertLocked(id, update.Name, at)
	} else {
		if name := strings.TrimSpace(update.Name); name != "" {
			device.Name = name
		}
		touch(device, at)
	}
	if status := strings.TrimSpace(update.Status); status != "" {
		device.Status = status
	}
	if update.Motion != nil {
		distance := update.Motion.Distance
		motionAt := atOrNow(update.Motion.At)
		device.LastMotionDistance = &distance
		device.LastMotionTime = &motionAt
	}
	return clone(device), nil
}

// Get returns a copy of the device.
func (r *Registry) Get(id string) (devices.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[strings.TrimSpace(id)]
	if !ok {
		return devices.Device{}, devices.ErrNotFound
	}
	return clone(device), nil
}

// List returns copies of all devices in first-seen order.
func (r *Registry) List() []devices.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]devices.Device, 0, len(r.order))
	for _, id := range r.order {
		if device, ok := r.devices[id]; ok {
			result = append(result, clone(device))
		}
	}
	return result
}

// Clear removes every device.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.devices = make(map[string]*devices.Device)
	r.order = nil
	r.mu.Unlock()
}

// MarkStale demotes a live device whose LastSeen is before cutoff. The check is
// repeated under the lock so a report that raced the sweep keeps the device live.
func (r *Registry) MarkStale(id string, cutoff time.Time) (devices.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return devices.Device{}, false
	}
	if !devices.IsLive(device.Status) || !device.LastSeen.Before(cutoff) {
		return clone(device), false
	}
	device.Status = devices.StatusDisconnected
	return clone(device), true
}

// ToggleArmed flips the armed flag of a known device.
func (r *Registry) ToggleArmed(id string) (devices.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[strings.TrimSpace(id)]
	if !ok {
		return devices.Device{}, devices.ErrNotFound
	}
	device.Armed = !device.Armed
	return clone(device), nil
}

// Restore seeds devices loaded from durable storage. Devices already present win.
func (r *Registry) Restore(list []devices.Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for _, item := range list {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		if _, ok := r.devices[id]; ok {
			continue
		}
		device := clone(&item)
		device.ID = id
		if device.Name == "" {
			device.Name = id
		}
		r.devices[id] = &device
		r.order = append(r.order, id)
		restored++
	}
	return restored
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *Registry) insertLocked(id, name string, at time.Time) *devices.Device {
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	device := &devices.Device{
		ID:       id,
		Name:     name,
		Status:   devices.StatusConnected,
		Armed:    true,
		LastSeen: at,
	}
	r.devices[id] = device
	r.order = append(r.order, id)
	return device
}

// touch keeps LastSeen monotonic when reports arrive out of order.
func touch(device *devices.Device, at time.Time) {
	if at.After(device.LastSeen) {
		device.LastSeen = at
	}
}

func clone(device *devices.Device) devices.Device {
	out := *device
	if device.LastMotionDistance != nil {
		distance := *device.LastMotionDistance
		out.LastMotionDistance = &distance
	}
	if device.LastMotionTime != nil {
		at := *device.LastMotionTime
		out.LastMotionTime = &at
	}
	return out
}

func atOrNow(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}
