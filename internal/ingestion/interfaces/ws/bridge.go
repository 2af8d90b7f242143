package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	devices "hemlarm-relay/internal/devices/domain"
	ingestapp "hemlarm-relay/internal/ingestion/application"
	motionlog "hemlarm-relay/internal/motionlog/domain"
)

const (
	readLimit       = 4096
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
)

// MotionRecorder records one motion sample.
type MotionRecorder interface {
	RecordMotion(ctx context.Context, req ingestapp.MotionRequest) (motionlog.Entry, error)
}

type frame struct {
	DeviceID    string   `json:"device_id"`
	Distance    *float64 `json:"distance"`
	AlarmActive bool     `json:"alarm_active"`
}

type ack struct {
	Status   string  `json:"status,omitempty"`
	DeviceID string  `json:"device_id,omitempty"`
	Distance float64 `json:"distance,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Bridge accepts sensor WebSocket connections and records every motion frame.
// A bad frame is answered with an error ack; the connection stays open. The
// server pings every half pongWait so idle sensors are kept connected.
type Bridge struct {
	recorder MotionRecorder
	upgrader websocket.Upgrader
	logger   *log.Logger
	pongWait time.Duration

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// Option customizes the bridge.
type Option func(*Bridge)

// WithPongWait sets how long a connection may go without a pong or frame.
func WithPongWait(wait time.Duration) Option {
	return func(b *Bridge) {
		if wait > 0 {
			b.pongWait = wait
		}
	}
}

// NewBridge constructs a sensor bridge.
func NewBridge(recorder MotionRecorder, logger *log.Logger, opts ...Option) (*Bridge, error) {
	if recorder == nil {
		return nil, errors.New("ws bridge: nil recorder")
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Bridge{
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Sensors are not browsers and send no Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   logger,
		pongWait: defaultPongWait,
		conns:    make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close disconnects every sensor and refuses new ones. Hijacked connections are
// not closed by http.Server.Shutdown, so the server registers this on shutdown.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// Connections reports the number of connected sensors.
func (b *Bridge) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// ServeHTTP handles GET /ws/sensor.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("ws bridge: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	if !b.track(conn) {
		return
	}
	defer b.untrack(conn)

	remote := conn.RemoteAddr().String()
	b.logger.Printf("ws bridge: sensor connected: %s", remote)
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(b.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.pongWait))
	})

	replies := make(chan ack, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(conn, remote, replies)
	}()
	defer func() {
		close(replies)
		<-writerDone
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Printf("ws bridge: read error: %s: %v", remote, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(b.pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case replies <- b.handleFrame(r.Context(), data):
		case <-writerDone:
			return
		}
	}
}

// writeLoop owns every data and ping write on conn.
func (b *Bridge) writeLoop(conn *websocket.Conn, remote string, replies <-chan ack) {
	ticker := time.NewTicker(b.pongWait / 2)
	defer ticker.Stop()
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(reply); err != nil {
				b.logger.Printf("ws bridge: write error: %s: %v", remote, err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				b.logger.Printf("ws bridge: ping error: %s: %v", remote, err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (b *Bridge) track(conn *websocket.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conns[conn] = struct{}{}
	return true
}

func (b *Bridge) untrack(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
}

func (b *Bridge) handleFrame(ctx context.Context, data []byte) ack {
	var msg frame
	if err := json.Unmarshal(data, &msg); err != nil {
		return ack{Error: "invalid json"}
	}
	entry, err := b.recorder.RecordMotion(ctx, ingestapp.MotionRequest{
		DeviceID:    msg.DeviceID,
		Distance:    msg.Distance,
		AlarmActive: msg.AlarmActive,
	})
	if err != nil {
		if errors.Is(err, devices.ErrInvalidInput) {
			return ack{Error: "device_id and distance required"}
		}
		b.logger.Printf("ws bridge: record motion: %v", err)
		return ack{Error: "internal error"}
	}
	return ack{Status: "Motion recorded", DeviceID: entry.DeviceID, Distance: entry.Distance}
}
