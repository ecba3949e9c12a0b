// Package adapter holds one implementation per biometric vendor family.
// Each adapter implements the subset of capabilities its wire protocol
// supports and converges every payload onto attendance.Event.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/config"
	"attendance-ingest/internal/storage"

	"github.com/jonboulle/clockwork"
)

// Vendor identifiers as stored on devices.
const (
	VendorStreamHTTP = "streamhttp"
	VendorWebSocket  = "websocket"
	VendorCloudRelay = "cloudrelay"
	VendorADMS       = "adms"
)

var (
	ErrUnknownVendor         = errors.New("unknown vendor")
	ErrUnsupported           = errors.New("operation not supported by vendor")
	ErrVirtualEventsDisabled = errors.New("virtual events are disabled")
	ErrNotListening          = errors.New("device is not listening")
)

// ParseError reports a malformed vendor payload.
type ParseError struct {
	Vendor string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Vendor, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Vendor, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseError(vendor, reason string, err error) *ParseError {
	return &ParseError{Vendor: vendor, Reason: reason, Err: err}
}

type ConnectionState string

const (
	StateStopped       ConnectionState = "STOPPED"
	StateConnecting    ConnectionState = "CONNECTING"
	StateConnected     ConnectionState = "CONNECTED"
	StateReconnectWait ConnectionState = "RECONNECT_WAIT"
)

// Sink receives what a listening adapter observes. Calls for one device
// come from a single goroutine in wire order.
type Sink interface {
	// Event delivers one canonical punch.
	Event(ev attendance.Event)
	// Alive signals any traffic from the device, punch or not.
	Alive()
	// State reports connection transitions.
	State(s ConnectionState)
}

// Adapter is implemented by every vendor. Devices passed in carry
// decrypted secrets and their VendorConfig when one is linked.
type Adapter interface {
	Vendor() string
	// TestConnection probes reachability within the probe timeout. It
	// never fails, any error is reported as false.
	TestConnection(ctx context.Context, device storage.Device) bool
}

// Streamer is implemented by vendors this service connects out to.
type Streamer interface {
	Adapter
	// StartListening opens the long lived connection in the background
	// and returns an idempotent teardown function. The sink must not be
	// called before StartListening returns.
	StartListening(device storage.Device, sink Sink) (stop func())
	// Heartbeat returns how often silence is checked and how much of it
	// forces a reconnect. Zero disables the monitor.
	Heartbeat() (interval, timeout time.Duration)
}

// WebhookParser is implemented by vendors that deliver one punch per
// HTTP request.
type WebhookParser interface {
	Adapter
	ParseWebhookPayload(body []byte, device storage.Device) (attendance.Event, error)
}

// PushParser is implemented by vendors that batch punches in one
// delivery. Malformed lines are skipped.
type PushParser interface {
	Adapter
	ParsePushPayload(body []byte, device storage.Device) []attendance.Event
}

// RawRecord is one punch as pulled from a device log.
type RawRecord struct {
	BiometricUserID string                `json:"biometric_user_id"`
	Timestamp       time.Time             `json:"timestamp"`
	EventType       *attendance.EventType `json:"event_type,omitempty"`
}

// Event converts the record into a canonical event for device.
func (r RawRecord) Event(device storage.Device) attendance.Event {
	return attendance.Event{
		CompanyID:       device.CompanyID,
		DeviceID:        device.ID,
		Vendor:          device.Vendor,
		BiometricUserID: r.BiometricUserID,
		Timestamp:       r.Timestamp.UTC(),
		EventType:       r.EventType,
	}
}

// Fetcher pulls stored punches for gap filling.
type Fetcher interface {
	Adapter
	FetchAttendanceRecords(ctx context.Context, device storage.Device, start, end time.Time) ([]RawRecord, error)
}

// Options carries the timing and environment shared by all adapters.
type Options struct {
	Clock      clockwork.Clock
	HTTPClient *http.Client

	ProbeTimeout        time.Duration
	StreamRetryDelay    time.Duration
	HeartbeatInterval   time.Duration
	SilenceTimeout      time.Duration
	WebSocketRetryDelay time.Duration
	VirtualEvents       bool
	ADMSLocation        *time.Location
}

func OptionsFromConfig(cfg *config.Config, clk clockwork.Clock) Options {
	return Options{
		Clock:               clk,
		ProbeTimeout:        cfg.Probe.Timeout,
		StreamRetryDelay:    cfg.Stream.RetryDelay,
		HeartbeatInterval:   cfg.Stream.HeartbeatInterval,
		SilenceTimeout:      cfg.Stream.SilenceTimeout,
		WebSocketRetryDelay: cfg.WebSocket.RetryDelay,
		VirtualEvents:       cfg.VirtualEvents,
		ADMSLocation:        cfg.Location(),
	}
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.StreamRetryDelay <= 0 {
		o.StreamRetryDelay = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.SilenceTimeout <= 0 {
		o.SilenceTimeout = 60 * time.Second
	}
	if o.WebSocketRetryDelay <= 0 {
		o.WebSocketRetryDelay = 5 * time.Second
	}
	if o.ADMSLocation == nil {
		o.ADMSLocation = time.UTC
	}
	return o
}

// sleep waits d on clk, returning false if ctx ends first.
func sleep(ctx context.Context, clk clockwork.Clock, d time.Duration) bool {
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
