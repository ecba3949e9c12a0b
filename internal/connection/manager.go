// Package connection supervises the outbound connections of streaming
// devices.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/storage"
	"attendance-ingest/internal/vault"

	"github.com/jonboulle/clockwork"
)

const (
	storeTimeout = 5 * time.Second
	// Default delay between attempts to bring a failed device back.
	defaultRetryDelay = 10 * time.Second
)

// Submitter accepts canonical events for recording.
type Submitter interface {
	Submit(ctx context.Context, ev attendance.Event) error
}

type Options struct {
	Clock clockwork.Clock
	// StampInterval throttles last_seen writes for non-punch traffic.
	StampInterval time.Duration
	// RetryDelay spaces out attempts to start a device whose restart failed.
	RetryDelay time.Duration
}

// Manager owns the device id → connection map. Adapters only see the
// sink they were handed.
type Manager struct {
	store     storage.DeviceStore
	registry  *adapter.Registry
	vault     *vault.Vault
	submitter Submitter
	clock     clockwork.Clock
	stamp     time.Duration
	retry     time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	handles map[string]*handle
	retries map[string]*pendingStart
}

// pendingStart is a device waiting for another start attempt.
type pendingStart struct {
	cancel context.CancelFunc
}

type handle struct {
	deviceID  string
	companyID string
	vendor    string

	ctx    context.Context
	cancel context.CancelFunc
	stop   func()

	state        adapter.ConnectionState
	startedAt    time.Time
	lastActivity time.Time
	lastEvent    time.Time
	lastStamp    time.Time
}

// Status is a snapshot of one tracked connection.
type Status struct {
	DeviceID     string                  `json:"device_id"`
	Vendor       string                  `json:"vendor"`
	State        adapter.ConnectionState `json:"state"`
	StartedAt    time.Time               `json:"started_at"`
	LastActivity time.Time               `json:"last_activity"`
	LastEvent    *time.Time              `json:"last_event,omitempty"`
}

func NewManager(store storage.DeviceStore, registry *adapter.Registry, v *vault.Vault, submitter Submitter, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Manager{
		store:     store,
		registry:  registry,
		vault:     v,
		submitter: submitter,
		clock:     opts.Clock,
		stamp:     opts.StampInterval,
		retry:     opts.RetryDelay,
		logger:    slog.With("component", "connections"),
		handles:   make(map[string]*handle),
		retries:   make(map[string]*pendingStart),
	}
}

// StartDevice opens the device's connection unless it is already
// tracked or its vendor pushes to us.
func (m *Manager) StartDevice(ctx context.Context, device storage.Device) error {
	logger := m.logger.With("device_id", device.ID, "vendor", device.Vendor)

	if m.Tracked(device.ID) {
		return nil
	}
	if !adapter.IsStreamingVendor(device.Vendor) {
		logger.Debug("Push vendor, no connection to own")
		return nil
	}

	a, err := m.registry.Get(device.Vendor)
	if err != nil {
		return err
	}
	streamer, ok := a.(adapter.Streamer)
	if !ok {
		return fmt.Errorf("%w: %s cannot stream", adapter.ErrUnsupported, device.Vendor)
	}

	if device.VendorConfigID != "" && device.VendorConfig == nil {
		vc, err := m.store.GetVendorConfig(ctx, device.VendorConfigID)
		if err != nil {
			return fmt.Errorf("loading vendor config: %w", err)
		}
		device.VendorConfig = vc
	}
	if s := m.vault.Decrypt(device.Password); s.Status == vault.LegacyHash {
		logger.Warn("Device password is a legacy hash and cannot be used")
	}
	plain := m.vault.WithDecryptedSecrets(device)

	now := m.clock.Now()
	hctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		deviceID:     device.ID,
		companyID:    device.CompanyID,
		vendor:       device.Vendor,
		ctx:          hctx,
		cancel:       cancel,
		state:        adapter.StateConnecting,
		startedAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	if _, exists := m.handles[device.ID]; exists {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.handles[device.ID] = h
	h.stop = streamer.StartListening(plain, &deviceSink{m: m, h: h})
	if interval, timeout := streamer.Heartbeat(); interval > 0 && timeout > 0 {
		go m.monitor(h, m.clock.NewTicker(interval), timeout)
	}
	m.mu.Unlock()

	m.reportStates()
	logger.Info("Device connection started")
	return nil
}

// StopDevice tears down the device's connection and cancels any pending
// start attempt. Unknown ids are ignored.
func (m *Manager) StopDevice(deviceID string) {
	m.mu.Lock()
	h, ok := m.handles[deviceID]
	delete(m.handles, deviceID)
	if p, pending := m.retries[deviceID]; pending {
		p.cancel()
		delete(m.retries, deviceID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	h.cancel()
	if h.stop != nil {
		h.stop()
	}
	m.reportStates()
	m.logger.Info("Device connection stopped", "device_id", deviceID)
}

// RestartDevice stops the device and starts it again if it is still
// flagged active.
func (m *Manager) RestartDevice(ctx context.Context, deviceID string) error {
	m.StopDevice(deviceID)
	return m.startStored(ctx, deviceID)
}

// startStored starts the device as currently stored. Deleted and inactive
// devices are left stopped.
func (m *Manager) startStored(ctx context.Context, deviceID string) error {
	device, err := m.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !device.IsActive {
		m.logger.Info("Device no longer active, not restarting", "device_id", deviceID)
		return nil
	}
	return m.StartDevice(ctx, *device)
}

// StartAllDevices starts every active device. One device failing does
// not stop the others.
func (m *Manager) StartAllDevices(ctx context.Context) (int, error) {
	devices, err := m.store.ListDevices(ctx, storage.DeviceFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("listing active devices: %w", err)
	}

	started := 0
	for _, device := range devices {
		if err := m.StartDevice(ctx, device); err != nil {
			m.logger.Error("Failed to start device", "device_id", device.ID, "vendor", device.Vendor, "error", err)
			if !permanent(err) {
				m.scheduleStart(device.ID)
			}
			continue
		}
		if m.Tracked(device.ID) {
			started++
		}
	}
	m.logger.Info("Started device connections", "active", len(devices), "connections", started)
	return started, nil
}

func (m *Manager) StopAllDevices() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle)
	for _, p := range m.retries {
		p.cancel()
	}
	m.retries = make(map[string]*pendingStart)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		if h.stop != nil {
			h.stop()
		}
	}
	m.reportStates()
	m.logger.Info("Stopped all device connections", "count", len(handles))
}

func (m *Manager) Tracked(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[deviceID]
	return ok
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

func (m *Manager) Status(deviceID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[deviceID]
	if !ok {
		state := adapter.StateStopped
		if _, pending := m.retries[deviceID]; pending {
			state = adapter.StateReconnectWait
		}
		return Status{DeviceID: deviceID, State: state}, false
	}
	return h.status(), true
}

func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h.status())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (h *handle) status() Status {
	s := Status{
		DeviceID:     h.deviceID,
		Vendor:       h.vendor,
		State:        h.state,
		StartedAt:    h.startedAt,
		LastActivity: h.lastActivity,
	}
	if !h.lastEvent.IsZero() {
		t := h.lastEvent
		s.LastEvent = &t
	}
	return s
}

func (m *Manager) reportStates() {
	m.mu.Lock()
	counts := map[string]int{}
	for _, h := range m.handles {
		counts[string(h.state)]++
	}
	m.mu.Unlock()
	metrics.SetConnectionStates(counts)
}

// current reports whether h is still the tracked handle of its device.
func (m *Manager) current(h *handle) bool {
	return m.handles[h.deviceID] == h
}

// monitor restarts the device once silence exceeds timeout. It exits when
// its handle is replaced or stopped, so restarts never stack.
func (m *Manager) monitor(h *handle, ticker clockwork.Ticker, timeout time.Duration) {
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.Chan():
		}

		m.mu.Lock()
		if !m.current(h) {
			m.mu.Unlock()
			return
		}
		silence := m.clock.Now().Sub(h.lastActivity)
		waiting := h.state == adapter.StateReconnectWait
		m.mu.Unlock()

		// The adapter's own retry loop owns a failed connection.
		if waiting || silence <= timeout {
			continue
		}

		m.logger.Warn("Device silent, forcing reconnect", "device_id", h.deviceID, "silence", silence)
		metrics.IncReconnect("silence")
		ticker.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err := m.RestartDevice(ctx, h.deviceID)
		cancel()
		if err != nil {
			m.logger.Error("Failed to restart device", "device_id", h.deviceID, "error", err, "retry_in", m.retry)
			if !permanent(err) {
				m.scheduleStart(h.deviceID)
			}
		}
		return
	}
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, adapter.ErrUnknownVendor) ||
		errors.Is(err, adapter.ErrUnsupported) ||
		errors.Is(err, storage.ErrNotFound)
}

// scheduleStart keeps trying to start the device every retry delay until
// it runs, turns out inactive or deleted, or StopDevice is called for it.
func (m *Manager) scheduleStart(deviceID string) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingStart{cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.retries[deviceID]; ok {
		prev.cancel()
	}
	m.retries[deviceID] = p
	m.mu.Unlock()

	go m.retryStart(ctx, p, deviceID)
}

func (m *Manager) retryStart(ctx context.Context, p *pendingStart, deviceID string) {
	defer func() {
		m.mu.Lock()
		if m.retries[deviceID] == p {
			delete(m.retries, deviceID)
		}
		m.mu.Unlock()
		p.cancel()
	}()

	for attempt := 1; ; attempt++ {
		timer := m.clock.NewTimer(m.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
		if ctx.Err() != nil {
			return
		}

		metrics.IncReconnect("retry")
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := m.startStored(sctx, deviceID)
		cancel()
		if err == nil {
			m.logger.Info("Device start retried", "device_id", deviceID, "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if permanent(err) {
			m.logger.Error("Giving up on device", "device_id", deviceID, "attempt", attempt, "error", err)
			return
		}
		m.logger.Warn("Device start failed, retrying", "device_id", deviceID, "attempt", attempt, "error", err, "retry_in", m.retry)
	}
}

func (m *Manager) touch(deviceID string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.TouchDevice(ctx, deviceID, at); err != nil {
		m.logger.Warn("Failed to stamp device health", "device_id", deviceID, "error", err)
	}
}

// deviceSink is handed to one adapter listener. Calls from a listener
// whose handle is gone are ignored.
type deviceSink struct {
	m *Manager
	h *handle
}

func (s *deviceSink) Event(ev attendance.Event) {
	m, h := s.m, s.h
	now := m.clock.Now()

	m.mu.Lock()
	if !m.current(h) {
		m.mu.Unlock()
		return
	}
	h.lastActivity, h.lastEvent, h.lastStamp = now, now, now
	m.mu.Unlock()

	if ev.DeviceID == "" {
		ev.DeviceID = h.deviceID
	}
	if ev.CompanyID == "" {
		ev.CompanyID = h.companyID
	}
	if ev.Vendor == "" {
		ev.Vendor = h.vendor
	}
	if err := m.submitter.Submit(h.ctx, ev); err != nil {
		m.logger.Error("Failed to queue event", "device_id", h.deviceID, "error", err)
	}
	m.touch(h.deviceID, now)
}

func (s *deviceSink) Alive() {
	m, h := s.m, s.h
	now := m.clock.Now()

	m.mu.Lock()
	if !m.current(h) {
		m.mu.Unlock()
		return
	}
	h.lastActivity = now
	stamp := now.Sub(h.lastStamp) >= m.stamp
	if stamp {
		h.lastStamp = now
	}
	m.mu.Unlock()

	if stamp {
		m.touch(h.deviceID, now)
	}
}

func (s *deviceSink) State(state adapter.ConnectionState) {
	m, h := s.m, s.h

	m.mu.Lock()
	if !m.current(h) {
		m.mu.Unlock()
		return
	}
	changed := h.state != state
	h.state = state
	m.mu.Unlock()

	if changed {
		m.logger.Debug("Connection state", "device_id", h.deviceID, "state", state)
		m.reportStates()
	}
}
