package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "hemlarm-relay/internal/alarms/domain"
	devices "hemlarm-relay/internal/devices/domain"
	motionlog "hemlarm-relay/internal/motionlog/domain"
	"hemlarm-relay/internal/observability/metrics"
)

// Notification modes.
const (
	// NotifyAlarmActive notifies only for samples flagged alarm_active.
	NotifyAlarmActive = "alarm_active"
	// NotifyAlways notifies on every motion sample from an armed device.
	NotifyAlways = "always"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	defaultSinkTimeout   = 5 * time.Second
)

// RegisterRequest is the register_device payload.
type RegisterRequest struct {
	DeviceID string
	Name     string
}

// RegisterResult reports the registered device and whether it was new.
type RegisterResult struct {
	Device  devices.Device
	Created bool
}

// StatusRequest is the device_status payload.
type StatusRequest struct {
	DeviceID string
	Status   string
	Name     string
}

// MotionRequest is the motion_detected payload. Distance is required.
type MotionRequest struct {
	DeviceID    string
	Distance    *float64
	AlarmActive bool
}

// Service applies inbound sensor messages to the registry and motion log and
// dispatches notifications and durable writes in the background.
type Service struct {
	registry   devices.Registry
	store      motionlog.Store
	notifier   AlertNotifier
	recipients []alarms.Recipient
	sinks      []DurableSink
	publisher  EventPublisher
	clock      Clock
	logger     *log.Logger

	notifyMode    string
	notifyTimeout time.Duration
	sinkTimeout   time.Duration
	logWindow     int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes the service.
type Option func(*Service)

// WithNotifier assigns the notifier and its recipients.
func WithNotifier(notifier AlertNotifier, recipients ...alarms.Recipient) Option {
	return func(s *Service) {
		s.notifier = notifier
		s.recipients = append([]alarms.Recipient(nil), recipients...)
	}
}

// WithSink adds durable sinks.
func WithSink(sinks ...DurableSink) Option {
	return func(s *Service) {
		for _, sink := range sinks {
			if sink != nil {
				s.sinks = append(s.sinks, sink)
			}
		}
	}
}

// WithPublisher assigns the live event publisher.
func WithPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifyMode selects when motion triggers notifications.
func WithNotifyMode(mode string) Option {
	return func(s *Service) {
		if mode != "" {
			s.notifyMode = mode
		}
	}
}

// WithTimeouts bounds background notification and sink calls.
func WithTimeouts(notify, sink time.Duration) Option {
	return func(s *Service) {
		if notify > 0 {
			s.notifyTimeout = notify
		}
		if sink > 0 {
			s.sinkTimeout = sink
		}
	}
}

// WithLogWindow caps GetLogs results.
func WithLogWindow(window int) Option {
	return func(s *Service) {
		if window > 0 {
			s.logWindow = window
		}
	}
}

// NewService constructs an ingestion service.
func NewService(registry devices.Registry, store motionlog.Store, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("ingestion: nil registry")
	}
	if store == nil {
		return nil, errors.New("ingestion: nil log store")
	}
	service := &Service{
		registry:      registry,
		store:         store,
		clock:         systemClock{},
		logger:        log.Default(),
		notifyMode:    NotifyAlarmActive,
		notifyTimeout: defaultNotifyTimeout,
		sinkTimeout:   defaultSinkTimeout,
		logWindow:     motionlog.DefaultWindow,
	}
	for _, opt := range opts {
		opt(service)
	}
	switch service.notifyMode {
	case NotifyAlarmActive, NotifyAlways:
	default:
		return nil, fmt.Errorf("ingestion: unknown notify mode %q", service.notifyMode)
	}
	return service, nil
}

// RegisterDevice creates a device or refreshes an existing one without renaming it.
func (s *Service) RegisterDevice(_ context.Context, req RegisterRequest) (result RegisterResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveIngest("register", resultOf(err), time.Since(start)) }()

	id := strings.TrimSpace(req.DeviceID)
	if id == "" {
		return RegisterResult{}, fmt.Errorf("register: device_id required: %w", devices.ErrInvalidInput)
	}
	device, created, err := s.registry.Register(id, req.Name, s.clock.Now())
	if err != nil {
		return RegisterResult{}, err
	}
	if created {
		s.logger.Printf("ingestion: device registered: id=%s name=%s", device.ID, device.Name)
	}
	s.saveDevice(device)
	s.publish(Event{Type: EventDevice, Device: &device})
	return RegisterResult{Device: device, Created: created}, nil
}

// UpdateStatus records a sensor-reported status, auto-registering unknown ids.
func (s *Service) UpdateStatus(_ context.Context, req StatusRequest) (device devices.Device, err error) {
	start := time.Now()
	defer func() { metrics.ObserveIngest("status", resultOf(err), time.Since(start)) }()

	id := strings.TrimSpace(req.DeviceID)
	status := strings.TrimSpace(req.Status)
	if id == "" || status == "" {
		return devices.Device{}, fmt.Errorf("status: device_id and status required: %w", devices.ErrInvalidInput)
	}
	device, err = s.registry.Upsert(devices.Update{
		ID:     id,
		Name:   req.Name,
		Status: status,
		SeenAt: s.clock.Now(),
	})
	if err != nil {
		return devices.Device{}, err
	}
	s.saveDevice(device)
	s.publish(Event{Type: EventDevice, Device: &device})
	return device, nil
}

// RecordMotion stores a motion sample, marks the device live and notifies when the
// sample qualifies. The result never depends on notification or sink outcomes.
func (s *Service) RecordMotion(_ context.Context, req MotionRequest) (entry motionlog.Entry, err error) {
	start := time.Now()
	defer func() { metrics.ObserveIngest("motion", resultOf(err), time.Since(start)) }()

	id := strings.TrimSpace(req.DeviceID)
	if id == "" || req.Distance == nil {
		return motionlog.Entry{}, fmt.Errorf("motion: device_id and distance required: %w", devices.ErrInvalidInput)
	}
	distance := *req.Distance
	now := s.clock.Now()
	device, err := s.registry.Upsert(devices.Update{
		ID:     id,
		Status: devices.StatusConnected,
		Motion: &devices.MotionSample{Distance: distance, At: now},
		SeenAt: now,
	})
	if err != nil {
		return motionlog.Entry{}, err
	}
	entry = motionlog.NewEntry(uuid.NewString(), device, distance, req.AlarmActive, now)
	s.store.Append(entry)
	metrics.IncMotionEvent(req.AlarmActive)

	s.saveDevice(device)
	s.appendLog(entry)
	s.publish(Event{Type: EventMotion, Device: &device, Entry: &entry})
	if s.shouldNotify(device, req.AlarmActive) {
		s.dispatch(alarms.MotionAlert{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Distance:   distance,
			DetectedAt: now,
			Message:    entry.Message,
		})
	}
	return entry, nil
}

// GetDevices lists all devices.
func (s *Service) GetDevices() []devices.Device {
	return s.registry.List()
}

// GetDevice returns one device or devices.ErrNotFound.
func (s *Service) GetDevice(id string) (devices.Device, error) {
	return s.registry.Get(id)
}

// GetLogs returns up to limit recent entries, oldest first. Limits outside
// (0, window] use the window.
func (s *Service) GetLogs(limit int) []motionlog.Entry {
	if limit <= 0 || limit > s.logWindow {
		limit = s.logWindow
	}
	return s.store.Recent(limit)
}

// ClearDevices empties the registry.
func (s *Service) ClearDevices(_ context.Context) {
	s.registry.Clear()
	s.logger.Printf("ingestion: devices cleared")
	for _, sink := range s.sinks {
		s.goBackground("clear_devices", s.sinkTimeout, func(ctx context.Context) {
			s.recordSink("clear_devices", sink.ClearDevices(ctx))
		})
	}
	s.publish(Event{Type: EventDevicesClear})
}

// ClearLogs empties the motion log.
func (s *Service) ClearLogs(_ context.Context) {
	s.store.Clear()
	s.logger.Printf("ingestion: logs cleared")
	for _, sink := range s.sinks {
		s.goBackground("clear_logs", s.sinkTimeout, func(ctx context.Context) {
			s.recordSink("clear_logs", sink.ClearLogs(ctx))
		})
	}
	s.publish(Event{Type: EventLogsClear})
}

// ToggleAlarm flips whether the device may notify.
func (s *Service) ToggleAlarm(_ context.Context, id string) (devices.Device, error) {
	device, err := s.registry.ToggleArmed(id)
	if err != nil {
		return devices.Device{}, err
	}
	s.logger.Printf("ingestion: alarm toggled: id=%s armed=%t", device.ID, device.Armed)
	s.saveDevice(device)
	s.publish(Event{Type: EventDevice, Device: &device})
	return device, nil
}

// DeviceStale propagates a liveness demotion to sinks and subscribers.
func (s *Service) DeviceStale(device devices.Device) {
	s.saveDevice(device)
	s.publish(Event{Type: EventDevice, Device: &device})
}

// Restore seeds the registry from a loader. Devices already present are kept.
// When the loader also implements LogLoader and the motion log is empty, the
// most recent window of entries is restored as well.
func (s *Service) Restore(ctx context.Context, loader DeviceLoader) (int, error) {
	if loader == nil {
		return 0, nil
	}
	list, err := loader.LoadDevices(ctx)
	if err != nil {
		return 0, err
	}
	restored := s.registry.Restore(list)

	logs, ok := loader.(LogLoader)
	if !ok || s.store.Len() > 0 {
		return restored, nil
	}
	entries, err := logs.RecentLogs(ctx, s.logWindow)
	if err != nil {
		return restored, fmt.Errorf("restore logs: %w", err)
	}
	for _, entry := range entries {
		s.store.Append(entry)
	}
	if len(entries) > 0 {
		s.logger.Printf("ingestion: restored %d log entries", len(entries))
	}
	return restored, nil
}

// Wait blocks until background notifications and sink writes finish. Ingest may
// continue afterwards; use Shutdown when no more work should start.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops background dispatch and waits for in-flight work. Requests
// handled after Shutdown still update memory but skip notifications and sinks.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// DeviceCount reports the registry size.
func (s *Service) DeviceCount() int {
	return s.registry.Len()
}

// LogCount reports the number of entries in the recent window.
func (s *Service) LogCount() int {
	return s.store.Len()
}

func (s *Service) shouldNotify(device devices.Device, alarmActive bool) bool {
	if s.notifier == nil || len(s.recipients) == 0 || !device.Armed {
		return false
	}
	return alarmActive || s.notifyMode == NotifyAlways
}

func (s *Service) dispatch(alert alarms.MotionAlert) {
	s.goBackground("notify", s.notifyTimeout, func(ctx context.Context) {
		deliveries := s.notifier.Notify(ctx, alert, s.recipients)
		failed := 0
		for _, delivery := range deliveries {
			if delivery.Status == alarms.DeliveryFailed {
				failed++
			}
		}
		if failed > 0 {
			s.logger.Printf("ingestion: notify: device=%s failed=%d of %d", alert.DeviceID, failed, len(deliveries))
		}
	})
}

func (s *Service) saveDevice(device devices.Device) {
	for _, sink := range s.sinks {
		s.goBackground("save_device", s.sinkTimeout, func(ctx context.Context) {
			s.recordSink("save_device", sink.SaveDevice(ctx, device))
		})
	}
}

func (s *Service) appendLog(entry motionlog.Entry) {
	for _, sink := range s.sinks {
		s.goBackground("append_log", s.sinkTimeout, func(ctx context.Context) {
			s.recordSink("append_log", sink.AppendLog(ctx, entry))
		})
	}
}

func (s *Service) recordSink(op string, err error) {
	if err != nil {
		metrics.IncSinkWrite(op, metrics.ResultError)
		s.logger.Printf("ingestion: sink %s failed: %v", op, err)
		return
	}
	metrics.IncSinkWrite(op, metrics.ResultSuccess)
}

func (s *Service) publish(event Event) {
	if s.publisher == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.clock.Now().UTC()
	}
	s.publisher.Publish(event)
}

// goBackground runs fn detached from the request with its own timeout.
func (s *Service) goBackground(op string, timeout time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Printf("ingestion: %s dropped after shutdown", op)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("ingestion: %s panic: %v", op, rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

func resultOf(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
