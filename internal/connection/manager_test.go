package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/config"
	"attendance-ingest/internal/storage"
	"attendance-ingest/internal/vault"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// fakeStreamer stands in for the streaming HTTP vendor.
type fakeStreamer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	sinks    []adapter.Sink
	devices  []storage.Device
	interval time.Duration
	timeout  time.Duration
}

func (f *fakeStreamer) Vendor() string { return adapter.VendorStreamHTTP }

func (f *fakeStreamer) TestConnection(context.Context, storage.Device) bool { return true }

func (f *fakeStreamer) Heartbeat() (time.Duration, time.Duration) { return f.interval, f.timeout }

func (f *fakeStreamer) StartListening(device storage.Device, sink adapter.Sink) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.sinks = append(f.sinks, sink)
	f.devices = append(f.devices, device)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.stops++
			f.mu.Unlock()
		})
	}
}

func (f *fakeStreamer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func (f *fakeStreamer) lastSink() adapter.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

type collectingSubmitter struct {
	mu     sync.Mutex
	events []attendance.Event
}

func (c *collectingSubmitter) Submit(_ context.Context, ev attendance.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collectingSubmitter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fixture struct {
	store     storage.Provider
	streamer  *fakeStreamer
	submitter *collectingSubmitter
	clock     *clockwork.FakeClock
	vault     *vault.Vault
	registry  *adapter.Registry
	manager   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewProvider(&config.Storage{
		Type:   config.StorageSQLite,
		SQLite: &config.SQLLiteStorage{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:     store,
		streamer:  &fakeStreamer{interval: 30 * time.Second, timeout: 60 * time.Second},
		submitter: &collectingSubmitter{},
		clock:     clockwork.NewFakeClockAt(epoch),
		vault:     vault.New(testKey),
	}
	f.registry = adapter.NewRegistryWith(f.streamer, adapter.NewCloudRelay(adapter.Options{}), adapter.NewADMS(adapter.Options{}))
	f.manager = NewManager(store, f.registry, f.vault, f.submitter, Options{Clock: f.clock, StampInterval: 30 * time.Second})
	t.Cleanup(f.manager.StopAllDevices)
	return f
}

func (f *fixture) device(t *testing.T, d storage.Device) storage.Device {
	t.Helper()
	if d.CompanyID == "" {
		d.CompanyID = "acme"
	}
	require.NoError(t, f.store.CreateDevice(context.Background(), d))
	return d
}

func TestStartDevice_PushVendorCreatesNoHandle(t *testing.T) {
	f := newFixture(t)
	for _, vendor := range []string{adapter.VendorADMS, adapter.VendorCloudRelay} {
		require.NoError(t, f.manager.StartDevice(context.Background(), storage.Device{ID: "push-" + vendor, Vendor: vendor, IsActive: true}))
	}
	assert.Equal(t, 0, f.manager.Count())
	starts, _ := f.streamer.counts()
	assert.Equal(t, 0, starts)
}

func TestStartStop_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := storage.Device{ID: "d1", CompanyID: "acme", Vendor: adapter.VendorStreamHTTP, IsActive: true}

	require.NoError(t, f.manager.StartDevice(ctx, d))
	require.NoError(t, f.manager.StartDevice(ctx, d))
	assert.True(t, f.manager.Tracked("d1"))

	status, ok := f.manager.Status("d1")
	require.True(t, ok)
	assert.Equal(t, adapter.StateConnecting, status.State)

	f.manager.StopDevice("d1")
	f.manager.StopDevice("d1")
	f.manager.StopDevice("never-started")

	starts, stops := f.streamer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, f.manager.Tracked("d1"))

	status, ok = f.manager.Status("d1")
	assert.False(t, ok)
	assert.Equal(t, adapter.StateStopped, status.State)
}

func TestStartDevice_UnknownVendor(t *testing.T) {
	f := newFixture(t)
	err := f.manager.StartDevice(context.Background(), storage.Device{ID: "d1", Vendor: adapter.VendorWebSocket})
	assert.ErrorIs(t, err, adapter.ErrUnknownVendor)
	assert.Equal(t, 0, f.manager.Count())
}

func TestStartDevice_DecryptsSecretsForAdapter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pw, err := f.vault.Encrypt("device-pw")
	require.NoError(t, err)
	key, err := f.vault.Encrypt("api-key")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateVendorConfig(ctx, storage.VendorConfig{ID: "vc1", CompanyID: "acme", Vendor: adapter.VendorStreamHTTP, APIKey: key}))

	d := storage.Device{ID: "d1", CompanyID: "acme", Vendor: adapter.VendorStreamHTTP, Password: pw, VendorConfigID: "vc1", IsActive: true}
	require.NoError(t, f.manager.StartDevice(ctx, d))

	f.streamer.mu.Lock()
	got := f.streamer.devices[0]
	f.streamer.mu.Unlock()
	assert.Equal(t, "device-pw", got.Password)
	require.NotNil(t, got.VendorConfig)
	assert.Equal(t, "api-key", got.VendorConfig.APIKey)
	assert.Equal(t, pw, d.Password)
}

func TestHeartbeat_SilenceTriggersSingleRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(ctx, d))

	// Exactly at the timeout is not yet silence.
	f.clock.Advance(60 * time.Second)
	time.Sleep(50 * time.Millisecond)
	starts, stops := f.streamer.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)

	f.clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool {
		starts, stops := f.streamer.counts()
		return starts == 2 && stops == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The replaced monitor is gone and the new one starts its own count.
	f.clock.Advance(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	starts, stops = f.streamer.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, f.manager.Count())
}

// lockedStore fails the first GetDevice calls the way a busy sqlite file does.
type lockedStore struct {
	storage.DeviceStore

	mu       sync.Mutex
	failures int
}

func (s *lockedStore) GetDevice(ctx context.Context, id string) (*storage.Device, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.DeviceStore.GetDevice(ctx, id)
}

func TestHeartbeat_FailedRestartIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &lockedStore{DeviceStore: f.store, failures: 2}
	m := NewManager(store, f.registry, f.vault, f.submitter, Options{Clock: f.clock, RetryDelay: 10 * time.Second})
	t.Cleanup(m.StopAllDevices)

	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, m.StartDevice(ctx, d))

	// Silence restart stops the device, then the reload fails.
	f.clock.Advance(90 * time.Second)
	assert.Eventually(t, func() bool {
		_, stops := f.streamer.counts()
		return stops == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.False(t, m.Tracked("d1"))
	status, _ := m.Status("d1")
	assert.Equal(t, adapter.StateReconnectWait, status.State)

	// First retry hits the lock again and re-arms.
	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	assert.False(t, m.Tracked("d1"))

	f.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return m.Tracked("d1") }, 2*time.Second, 10*time.Millisecond)
	starts, stops := f.streamer.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestRetry_StopDeviceCancelsPendingStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &lockedStore{DeviceStore: f.store, failures: 1}
	m := NewManager(store, f.registry, f.vault, f.submitter, Options{Clock: f.clock, RetryDelay: 10 * time.Second})
	t.Cleanup(m.StopAllDevices)

	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, m.StartDevice(ctx, d))
	f.clock.Advance(90 * time.Second)
	require.Eventually(t, func() bool {
		status, _ := m.Status("d1")
		return status.State == adapter.StateReconnectWait
	}, 2*time.Second, 10*time.Millisecond)

	m.StopDevice("d1")
	require.NoError(t, f.clock.BlockUntilContext(ctx, 0))
	f.clock.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, m.Tracked("d1"))
	starts, _ := f.streamer.counts()
	assert.Equal(t, 1, starts)
}

func TestHeartbeat_ActivityPreventsRestart(t *testing.T) {
	f := newFixture(t)
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(context.Background(), d))
	sink := f.streamer.lastSink()

	for i := 0; i < 4; i++ {
		f.clock.Advance(30 * time.Second)
		sink.Alive()
		time.Sleep(20 * time.Millisecond)
	}
	starts, _ := f.streamer.counts()
	assert.Equal(t, 1, starts)
}

func TestHeartbeat_ReconnectWaitIsLeftToAdapter(t *testing.T) {
	f := newFixture(t)
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(context.Background(), d))
	f.streamer.lastSink().State(adapter.StateReconnectWait)

	f.clock.Advance(120 * time.Second)
	time.Sleep(50 * time.Millisecond)
	starts, _ := f.streamer.counts()
	assert.Equal(t, 1, starts)
}

func TestRestartDevice_RespectsIsActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(ctx, d))

	require.NoError(t, f.manager.RestartDevice(ctx, "d1"))
	starts, stops := f.streamer.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)

	require.NoError(t, f.store.SetDeviceActive(ctx, "d1", false))
	require.NoError(t, f.manager.RestartDevice(ctx, "d1"))
	assert.False(t, f.manager.Tracked("d1"))

	require.NoError(t, f.manager.RestartDevice(ctx, "deleted"))
}

func TestStartAllDevices_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.device(t, storage.Device{ID: "a-ok", Vendor: adapter.VendorStreamHTTP, IsActive: true, CreatedAt: epoch})
	f.device(t, storage.Device{ID: "b-unregistered", Vendor: adapter.VendorWebSocket, IsActive: true, CreatedAt: epoch.Add(time.Second)})
	f.device(t, storage.Device{ID: "c-missing-config", Vendor: adapter.VendorStreamHTTP, VendorConfigID: "nope", IsActive: true, CreatedAt: epoch.Add(2 * time.Second)})
	f.device(t, storage.Device{ID: "d-push", Vendor: adapter.VendorADMS, IsActive: true, CreatedAt: epoch.Add(3 * time.Second)})
	f.device(t, storage.Device{ID: "e-inactive", Vendor: adapter.VendorStreamHTTP, CreatedAt: epoch.Add(4 * time.Second)})
	f.device(t, storage.Device{ID: "f-ok", Vendor: adapter.VendorStreamHTTP, IsActive: true, CreatedAt: epoch.Add(5 * time.Second)})

	started, err := f.manager.StartAllDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)
	assert.True(t, f.manager.Tracked("a-ok"))
	assert.True(t, f.manager.Tracked("f-ok"))

	f.manager.StopAllDevices()
	assert.Equal(t, 0, f.manager.Count())
	_, stops := f.streamer.counts()
	assert.Equal(t, 2, stops)
}

func TestSink_ForwardsEventsAndStampsHealth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(ctx, d))
	sink := f.streamer.lastSink()

	f.clock.Advance(time.Second)
	sink.State(adapter.StateConnected)
	sink.Event(attendance.Event{BiometricUserID: "42", Timestamp: epoch})
	require.Equal(t, 1, f.submitter.len())
	assert.Equal(t, "acme", f.submitter.events[0].CompanyID)
	assert.Equal(t, "d1", f.submitter.events[0].DeviceID)

	stored, err := f.store.GetDevice(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeen)
	assert.True(t, epoch.Add(time.Second).Equal(*stored.LastSeen))

	status, _ := f.manager.Status("d1")
	assert.Equal(t, adapter.StateConnected, status.State)
	require.NotNil(t, status.LastEvent)

	// A listener outliving its handle is ignored.
	f.manager.StopDevice("d1")
	sink.Event(attendance.Event{BiometricUserID: "42", Timestamp: epoch})
	assert.Equal(t, 1, f.submitter.len())
}

func TestSink_AliveStampsAreThrottled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, storage.Device{ID: "d1", Vendor: adapter.VendorStreamHTTP, IsActive: true})
	require.NoError(t, f.manager.StartDevice(ctx, d))
	sink := f.streamer.lastSink()

	f.clock.Advance(10 * time.Second)
	sink.Alive()
	f.clock.Advance(10 * time.Second)
	sink.Alive()

	stored, err := f.store.GetDevice(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastSeen)
	assert.True(t, epoch.Add(10*time.Second).Equal(*stored.LastSeen))

	f.clock.Advance(30 * time.Second)
	sink.Alive()
	stored, err = f.store.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, epoch.Add(50*time.Second).Equal(*stored.LastSeen))
}
