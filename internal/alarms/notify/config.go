package notify

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	alarms "hemlarm-relay/internal/alarms/domain"
)

// Config defines notification configuration.
type Config struct {
	Title        string             `yaml:"title"`
	Template     string             `yaml:"template"`
	Cooldown     time.Duration      `yaml:"cooldown"`
	DedupeWindow time.Duration      `yaml:"dedupe_window"`
	Push         PushConfig         `yaml:"push"`
	WebhookURL   string             `yaml:"webhook_url"`
	Recipients   []alarms.Recipient `yaml:"recipients"`
}

// PushConfig defines the push provider.
type PushConfig struct {
	APIURL   string `yaml:"api_url"`
	AppToken string `yaml:"app_token"`
	Priority int    `yaml:"priority"`
}

// LoadConfig loads config from the yaml file named by NOTIFY_CONFIG, then fills
// unset values from env.
func LoadConfig() (Config, error) {
	var cfg Config
	if path := os.Getenv("NOTIFY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Push.AppToken == "" {
		cfg.Push.AppToken = os.Getenv("PUSH_APP_TOKEN")
	}
	if cfg.Push.APIURL == "" {
		cfg.Push.APIURL = getenvDefault("PUSH_API_URL", DefaultPushAPIURL)
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("ALARM_WEBHOOK_URL")
	}
	if len(cfg.Recipients) == 0 {
		for i, token := range splitCSV(os.Getenv("PUSH_RECIPIENTS")) {
			cfg.Recipients = append(cfg.Recipients, alarms.Recipient{
				ID:      fmt.Sprintf("push-%d", i+1),
				Channel: alarms.ChannelPush,
				Address: token,
			})
		}
		if cfg.WebhookURL != "" {
			cfg.Recipients = append(cfg.Recipients, alarms.Recipient{
				ID:      "webhook",
				Channel: alarms.ChannelWebhook,
			})
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that every recipient can be served by a configured channel.
func (c Config) Validate() error {
	for _, recipient := range c.Recipients {
		if recipient.ID == "" {
			return errors.New("notify config: recipient id required")
		}
		switch recipient.Channel {
		case alarms.ChannelPush:
			if c.Push.AppToken == "" {
				return fmt.Errorf("notify config: recipient %s needs push app token", recipient.ID)
			}
			if recipient.Address == "" {
				return fmt.Errorf("notify config: recipient %s has no user token", recipient.ID)
			}
		case alarms.ChannelWebhook:
			if recipient.Address == "" && c.WebhookURL == "" {
				return fmt.Errorf("notify config: recipient %s has no webhook url", recipient.ID)
			}
		default:
			return fmt.Errorf("notify config: recipient %s: %w", recipient.ID, alarms.ErrUnknownChannel)
		}
	}
	return nil
}

// Build constructs a notifier for cfg. It returns a nil notifier when no
// recipients are configured.
func Build(cfg Config, logger *log.Logger, opts ...Option) (*Notifier, error) {
	if len(cfg.Recipients) == 0 {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tpl, err := NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	options := []Option{
		WithLogger(logger),
		WithTitle(cfg.Title),
		WithCooldown(cfg.Cooldown),
		WithDedupeWindow(cfg.DedupeWindow),
	}
	if cfg.Push.AppToken != "" {
		push, err := NewPushChannel(cfg.Push.APIURL, cfg.Push.AppToken, WithPriority(cfg.Push.Priority))
		if err != nil {
			return nil, err
		}
		options = append(options, WithChannel(alarms.ChannelPush, push))
	}
	options = append(options, WithChannel(alarms.ChannelWebhook, NewWebhookChannel(cfg.WebhookURL)))
	return NewNotifier(tpl, append(options, opts...)...)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
