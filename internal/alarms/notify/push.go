package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultPushAPIURL is the Pushover-compatible message endpoint.
const DefaultPushAPIURL = "https://api.pushover.net/1/messages.json"

type pushPayload struct {
	Token    string `json:"token"`
	User     string `json:"user"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message"`
	Priority int    `json:"priority,omitempty"`
}

// PushChannel posts messages to a push-notification provider using an application
// token and one user token per recipient.
type PushChannel struct {
	url      string
	appToken string
	priority int
	client   *http.Client
}

// PushOption configures the push channel.
type PushOption func(*PushChannel)

// WithPushHTTPClient overrides the HTTP client.
func WithPushHTTPClient(client *http.Client) PushOption {
	return func(ch *PushChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithPriority sets the provider priority for every message.
func WithPriority(priority int) PushOption {
	return func(ch *PushChannel) {
		ch.priority = priority
	}
}

// NewPushChannel constructs a push channel.
func NewPushChannel(url, appToken string, opts ...PushOption) (*PushChannel, error) {
	if appToken == "" {
		return nil, errors.New("push channel: empty app token")
	}
	if url == "" {
		url = DefaultPushAPIURL
	}
	channel := &PushChannel{
		url:      url,
		appToken: appToken,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send delivers msg to the user identified by address.
func (p *PushChannel) Send(ctx context.Context, address string, msg Message) error {
	if p == nil {
		return errors.New("push channel: nil")
	}
	if address == "" {
		return errors.New("push channel: empty recipient token")
	}
	body, err := json.Marshal(pushPayload{
		Token:    p.appToken,
		User:     address,
		Title:    msg.Title,
		Message:  msg.Content,
		Priority: p.priority,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push channel: non-2xx response %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
