package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/jwt"
	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
	"golang.org/x/net/websocket"
)

const (
	websocketPath   = "/ws/events"
	websocketOrigin = "http://localhost/"
)

// Discriminators of messages that carry a punch.
var websocketPunchEvents = map[string]bool{
	"attendance": true,
	"punch":      true,
}

// WebSocket holds one socket per device, authenticated with a bearer token.
type WebSocket struct {
	clock   clockwork.Clock
	probe   time.Duration
	retry   time.Duration
	virtual bool
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]session
}

type session struct {
	device storage.Device
	sink   Sink
}

func NewWebSocket(opts Options) *WebSocket {
	opts = opts.withDefaults()
	return &WebSocket{
		clock:    opts.Clock,
		probe:    opts.ProbeTimeout,
		retry:    opts.WebSocketRetryDelay,
		virtual:  opts.VirtualEvents,
		logger:   slog.With("component", "adapter", "vendor", VendorWebSocket),
		sessions: make(map[string]session),
	}
}

func (a *WebSocket) Vendor() string { return VendorWebSocket }

// Heartbeat is disabled, socket errors already trigger reconnects.
func (a *WebSocket) Heartbeat() (time.Duration, time.Duration) { return 0, 0 }

type websocketMessage struct {
	Event string          `json:"event"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type websocketPunch struct {
	UserID    idField   `json:"userId"`
	Time      timeField `json:"time"`
	Direction string    `json:"direction"`
}

func (a *WebSocket) endpoint(device storage.Device) (string, error) {
	if vc := device.VendorConfig; vc != nil && vc.APIURL != "" {
		u, err := url.Parse(vc.APIURL)
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = websocketPath
		}
		q := u.Query()
		if ref := cloudRef(device); ref != "" {
			q.Set("device", ref)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	u, err := baseURL("ws", device.Host, device.Port)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = websocketPath
	return u.String(), nil
}

func cloudRef(device storage.Device) string {
	if device.CloudDeviceID != "" {
		return device.CloudDeviceID
	}
	return device.SerialNumber
}

// bearer prefers a token minted from the vendor app secret, then the
// static API key, then the device password.
func (a *WebSocket) bearer(device storage.Device) (string, error) {
	if vc := device.VendorConfig; vc != nil {
		if vc.APISecret != "" {
			claim := jwt.NewVendorClaim(device.ID, device.CompanyID, vc.APIKey, jwt.DefaultTTL, a.clock.Now())
			return jwt.GenerateJWT(claim, []byte(vc.APISecret))
		}
		if vc.APIKey != "" {
			return vc.APIKey, nil
		}
	}
	return device.Password, nil
}

func (a *WebSocket) dial(ctx context.Context, device storage.Device) (*websocket.Conn, error) {
	location, err := a.endpoint(device)
	if err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(location, websocketOrigin)
	if err != nil {
		return nil, err
	}
	token, err := a.bearer(device)
	if err != nil {
		return nil, fmt.Errorf("building bearer token: %w", err)
	}
	if token != "" {
		cfg.Header.Set("Authorization", "Bearer "+token)
	}
	return cfg.DialContext(ctx)
}

func (a *WebSocket) TestConnection(ctx context.Context, device storage.Device) bool {
	ctx, cancel := context.WithTimeout(ctx, a.probe)
	defer cancel()

	conn, err := a.dial(ctx, device)
	if err != nil {
		a.logger.Debug("Probe failed", "device_id", device.ID, "error", err)
		return false
	}
	conn.Close()
	return true
}

func (a *WebSocket) StartListening(device storage.Device, sink Sink) func() {
	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.sessions[device.ID] = session{device: device, sink: sink}
	a.mu.Unlock()

	go a.listen(ctx, device, sink)
	return func() {
		cancel()
		a.mu.Lock()
		if s, ok := a.sessions[device.ID]; ok && s.sink == sink {
			delete(a.sessions, device.ID)
		}
		a.mu.Unlock()
	}
}

func (a *WebSocket) listen(ctx context.Context, device storage.Device, sink Sink) {
	logger := a.logger.With("device_id", device.ID)
	for {
		sink.State(StateConnecting)
		err := a.consume(ctx, device, sink)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Socket closed, reconnecting", "error", err, "retry_in", a.retry)
		sink.State(StateReconnectWait)
		if !sleep(ctx, a.clock, a.retry) {
			return
		}
	}
}

func (a *WebSocket) consume(ctx context.Context, device storage.Device, sink Sink) error {
	conn, err := a.dial(ctx, device)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Receive does not take a context.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sink.State(StateConnected)
	sink.Alive()

	for {
		var text string
		if err := websocket.Message.Receive(conn, &text); err != nil {
			return err
		}
		sink.Alive()

		ev, ok, err := a.parseMessage([]byte(text), device)
		if err != nil {
			a.logger.Debug("Skipping message", "device_id", device.ID, "error", err)
			continue
		}
		if ok {
			sink.Event(ev)
		}
	}
}

// parseMessage reports ok=false for messages that are not punches.
func (a *WebSocket) parseMessage(raw []byte, device storage.Device) (attendance.Event, bool, error) {
	var msg websocketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return attendance.Event{}, false, parseError(VendorWebSocket, "invalid json", err)
	}
	kind := msg.Event
	if kind == "" {
		kind = msg.Type
	}
	if !websocketPunchEvents[strings.ToLower(kind)] {
		return attendance.Event{}, false, nil
	}

	var p websocketPunch
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return attendance.Event{}, false, parseError(VendorWebSocket, "invalid punch data", err)
		}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return attendance.Event{}, false, parseError(VendorWebSocket, "invalid punch", err)
	}

	ts, err := p.Time.epochMillisOrWallClock(time.UTC)
	if err != nil {
		return attendance.Event{}, false, parseError(VendorWebSocket, "invalid time", err)
	}

	ev := attendance.Event{
		CompanyID:       device.CompanyID,
		DeviceID:        device.ID,
		Vendor:          VendorWebSocket,
		BiometricUserID: string(p.UserID),
		Timestamp:       ts,
	}
	switch strings.ToLower(p.Direction) {
	case "in":
		ev.EventType = attendance.Type(attendance.CheckIn)
	case "out":
		ev.EventType = attendance.Type(attendance.CheckOut)
	}
	return ev, true, nil
}

// TriggerVirtualEvent injects a punch for a listening device as if it had
// arrived on its socket.
func (a *WebSocket) TriggerVirtualEvent(deviceID, biometricUserID string, eventType *attendance.EventType) error {
	if !a.virtual {
		return ErrVirtualEventsDisabled
	}
	a.mu.Lock()
	s, ok := a.sessions[deviceID]
	a.mu.Unlock()
	if !ok {
		return ErrNotListening
	}

	s.sink.Alive()
	s.sink.Event(attendance.Event{
		CompanyID:       s.device.CompanyID,
		DeviceID:        s.device.ID,
		Vendor:          VendorWebSocket,
		BiometricUserID: biometricUserID,
		Timestamp:       a.clock.Now().UTC(),
		EventType:       eventType,
	})
	return nil
}
