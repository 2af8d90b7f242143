package application

import (
	"context"
	"errors"
	"log"
	"time"

	devices "hemlarm-relay/internal/devices/domain"
	"hemlarm-relay/internal/observability/metrics"
)

const (
	// DefaultInterval is the sweep period.
	DefaultInterval = 30 * time.Second
	// DefaultThreshold is the silence after which a live device is demoted.
	DefaultThreshold = 30 * time.Second
)

// Registry is the subset of the device registry the monitor needs.
type Registry interface {
	List() []devices.Device
	MarkStale(id string, cutoff time.Time) (devices.Device, bool)
}

// StaleHandler is called for every device demoted by a sweep.
type StaleHandler func(device devices.Device)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Monitor periodically demotes live devices that stopped reporting.
type Monitor struct {
	registry  Registry
	interval  time.Duration
	threshold time.Duration
	clock     Clock
	logger    *log.Logger
	onStale   StaleHandler
}

// Option customizes the monitor.
type Option func(*Monitor)

// WithInterval sets the sweep period.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithThreshold sets the staleness threshold.
func WithThreshold(threshold time.Duration) Option {
	return func(m *Monitor) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStaleHandler registers a callback for demoted devices.
func WithStaleHandler(handler StaleHandler) Option {
	return func(m *Monitor) {
		m.onStale = handler
	}
}

// NewMonitor constructs a liveness monitor.
func NewMonitor(registry Registry, opts ...Option) (*Monitor, error) {
	if registry == nil {
		return nil, errors.New("liveness: nil registry")
	}
	monitor := &Monitor{
		registry:  registry,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		clock:     systemClock{},
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(monitor)
	}
	return monitor, nil
}

// Start runs sweeps every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.clock.Now())
		}
	}
}

// Sweep demotes every live device whose last report is older than the threshold
// and returns the demoted devices. A fault inside a sweep is logged and swallowed.
func (m *Monitor) Sweep(now time.Time) (demoted []devices.Device) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Printf("liveness: sweep panic: %v", rec)
		}
		metrics.AddLivenessDisconnects(len(demoted))
	}()

	cutoff := now.Add(-m.threshold)
	for _, device := range m.registry.List() {
		if !devices.IsLive(device.Status) || !device.LastSeen.Before(cutoff) {
			continue
		}
		updated, ok := m.registry.MarkStale(device.ID, cutoff)
		if !ok {
			continue
		}
		m.logger.Printf("liveness: device disconnected: id=%s last_seen=%s", updated.ID, updated.LastSeen.UTC().Format(time.RFC3339))
		demoted = append(demoted, updated)
		m.notifyStale(updated)
	}
	return demoted
}

func (m *Monitor) notifyStale(device devices.Device) {
	if m.onStale == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Printf("liveness: stale handler panic: id=%s err=%v", device.ID, rec)
		}
	}()
	m.onStale(device)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
