package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "hemlarm-relay/internal/alarms/domain"
	"hemlarm-relay/internal/observability/metrics"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders motion alerts and delivers them to each recipient over the
// recipient's channel. Deliveries are independent: one failure never blocks the others.
type Notifier struct {
	channels     map[string]Channel
	template     *Template
	title        string
	clock        Clock
	logger       *log.Logger
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithChannel registers a delivery channel under name.
func WithChannel(name string, channel Channel) Option {
	return func(n *Notifier) {
		if name != "" && channel != nil {
			n.channels[name] = channel
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same device and recipient.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithTitle overrides the message title.
func WithTitle(title string) Option {
	return func(n *Notifier) {
		if title != "" {
			n.title = title
		}
	}
}

// WithLogger sets the delivery logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(template *Template, opts ...Option) (*Notifier, error) {
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channels: make(map[string]Channel),
		template: template,
		title:    DefaultTitle,
		clock:    systemClock{},
		logger:   log.Default(),
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	if len(n.channels) == 0 {
		return nil, errors.New("alarm notifier: no channels")
	}
	return n, nil
}

// Notify delivers alert to every recipient and returns one outcome per recipient.
// It never fails as a whole; per-recipient errors are recorded in the outcomes.
func (n *Notifier) Notify(ctx context.Context, alert alarms.MotionAlert, recipients []alarms.Recipient) []alarms.Delivery {
	if n == nil || len(recipients) == 0 {
		return nil
	}
	content, err := n.template.Render(buildTemplateData(alert))
	if err != nil {
		n.logger.Printf("alarm notify: render error: device=%s err=%v", alert.DeviceID, err)
		content = alert.Message
	}
	msg := Message{Title: n.title, Content: content}

	deliveries := make([]alarms.Delivery, len(recipients))
	var wg sync.WaitGroup
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient alarms.Recipient) {
			defer wg.Done()
			deliveries[i] = n.deliver(ctx, alert.DeviceID, recipient, msg)
		}(i, recipient)
	}
	wg.Wait()
	return deliveries
}

func (n *Notifier) deliver(ctx context.Context, deviceID string, recipient alarms.Recipient, msg Message) (delivery alarms.Delivery) {
	delivery = alarms.Delivery{
		ID:        uuid.NewString(),
		Recipient: recipient.ID,
		Channel:   recipient.Channel,
		At:        n.clock.Now().UTC(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			delivery.Status = alarms.DeliveryFailed
			delivery.Error = fmt.Sprintf("panic: %v", rec)
		}
		metrics.IncNotification(delivery.Channel, delivery.Status)
		if delivery.Status == alarms.DeliveryFailed {
			n.logger.Printf("alarm notify: delivery failed: device=%s recipient=%s channel=%s err=%s", deviceID, recipient.ID, recipient.Channel, delivery.Error)
		}
	}()

	channel, ok := n.channels[recipient.Channel]
	if !ok {
		delivery.Status = alarms.DeliveryFailed
		delivery.Error = alarms.ErrUnknownChannel.Error()
		return delivery
	}
	key := notificationKey(deviceID, recipient.ID)
	release, ok := n.reserve(key, msg.Content)
	if !ok {
		delivery.Status = alarms.DeliverySuppressed
		delivery.Error = alarms.ErrSuppressed.Error()
		return delivery
	}
	if err := channel.Send(ctx, recipient.Address, msg); err != nil {
		release()
		delivery.Status = alarms.DeliveryFailed
		delivery.Error = err.Error()
		return delivery
	}
	delivery.Status = alarms.DeliverySent
	return delivery
}

func buildTemplateData(alert alarms.MotionAlert) TemplateData {
	name := alert.DeviceName
	if name == "" {
		name = alert.DeviceID
	}
	detectedAt := alert.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	return TemplateData{
		Device:     name,
		DeviceID:   alert.DeviceID,
		Distance:   fmt.Sprintf("%.1f", alert.Distance),
		DetectedAt: detectedAt.Local().Format(time.RFC3339),
		Message:    alert.Message,
	}
}

// reserve claims the send slot for key under the lock so concurrent alerts for the
// same device and recipient cannot both pass the cooldown. The returned release
// undoes the claim when the send fails.
func (n *Notifier) reserve(key, content string) (release func(), ok bool) {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return func() {}, true
	}
	now := n.clock.Now().UTC()
	claim := sendRecord{at: now, hash: hashContent(content)}

	n.mu.Lock()
	defer n.mu.Unlock()
	previous, existed := n.sent[key]
	if existed {
		if n.cooldown > 0 && now.Sub(previous.at) < n.cooldown {
			return nil, false
		}
		if n.dedupeWindow > 0 && previous.hash == claim.hash && now.Sub(previous.at) < n.dedupeWindow {
			return nil, false
		}
	}
	n.sent[key] = claim
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.sent[key] != claim {
			return
		}
		if existed {
			n.sent[key] = previous
			return
		}
		delete(n.sent, key)
	}, true
}

func notificationKey(deviceID, recipientID string) string {
	return deviceID + "|" + recipientID
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
