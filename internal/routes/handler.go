package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/config"
	"attendance-ingest/internal/connection"
	"attendance-ingest/internal/storage"
	"attendance-ingest/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// Vendor deliveries are small, anything larger is not a punch batch.
const maxBodyBytes = 1 << 20

// Store is the device surface the HTTP layer needs.
type Store interface {
	storage.DeviceStore
	SetDeviceActive(ctx context.Context, deviceID string, active bool) error
	DeleteDevice(ctx context.Context, deviceID string) error
}

// Submitter queues events for the single attendance writer.
type Submitter interface {
	Submit(ctx context.Context, ev attendance.Event) error
}

// Connections is the connection manager surface used by the device API.
type Connections interface {
	StartDevice(ctx context.Context, device storage.Device) error
	StopDevice(deviceID string)
	RestartDevice(ctx context.Context, deviceID string) error
	Status(deviceID string) (connection.Status, bool)
}

type Deps struct {
	Store       Store
	Registry    *adapter.Registry
	Vault       *vault.Vault
	Recorder    attendance.Writer
	Queue       Submitter
	Connections Connections
	Webhook     config.WebhookConfig
	Clock       clockwork.Clock
}

// Handler serves vendor ingest points and the device management API.
type Handler struct {
	store    Store
	registry *adapter.Registry
	vault    *vault.Vault
	recorder attendance.Writer
	queue    Submitter
	conns    Connections
	webhook  config.WebhookConfig
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		store:    d.Store,
		registry: d.Registry,
		vault:    d.Vault,
		recorder: d.Recorder,
		queue:    d.Queue,
		conns:    d.Connections,
		webhook:  d.Webhook,
		clock:    d.Clock,
		logger:   slog.With("component", "routes"),
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

// stamp records vendor traffic as device health. Failures are logged only.
func (h *Handler) stamp(ctx context.Context, device *storage.Device) {
	if err := h.store.TouchDevice(ctx, device.ID, h.clock.Now()); err != nil {
		h.logger.Warn("Failed to stamp device health", "device_id", device.ID, "error", err)
	}
}

// submitAll queues events detached from the request context and returns
// how many were accepted.
func (h *Handler) submitAll(ctx context.Context, events []attendance.Event) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	queued := 0
	for _, ev := range events {
		if err := h.queue.Submit(ctx, ev); err != nil {
			h.logger.Error("Failed to queue event", "event", ev.String(), "error", err)
			continue
		}
		queued++
	}
	return queued
}
