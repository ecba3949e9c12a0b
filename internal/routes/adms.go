package routes

import (
	"errors"
	"net/http"
	"strings"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/storage"

	"github.com/gin-gonic/gin"
)

// admsOK is the only reply an ADMS agent understands. Anything else makes
// it resend the same batch.
const admsOK = "OK"

// ADMS registers the device push protocol under r, conventionally /iclock.
func (h *Handler) ADMS(r *gin.RouterGroup) {
	r.GET("/cdata", h.admsHandshake)
	r.POST("/cdata", h.admsPush)
	r.GET("/getrequest", h.admsCommandPoll)
}

// admsDevice resolves the SN query parameter. Unknown serials and devices
// registered under another vendor are logged and answer nil.
func (h *Handler) admsDevice(c *gin.Context) *storage.Device {
	serial := strings.TrimSpace(c.Query("SN"))
	if serial == "" {
		h.logger.Warn("ADMS request without serial number", "path", c.Request.URL.Path, "ip", c.ClientIP())
		return nil
	}
	device, err := h.store.GetDeviceBySerial(c.Request.Context(), serial)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("ADMS request from unknown device", "serial", serial, "ip", c.ClientIP())
		return nil
	}
	if err != nil {
		h.logger.Error("Failed to look up ADMS device", "serial", serial, "error", err)
		return nil
	}
	if !strings.EqualFold(device.Vendor, adapter.VendorADMS) {
		h.logger.Warn("ADMS request for a device of another vendor", "serial", serial, "device_id", device.ID, "vendor", device.Vendor)
		return nil
	}
	return device
}

func (h *Handler) admsHandshake(c *gin.Context) {
	if device := h.admsDevice(c); device != nil {
		h.stamp(c.Request.Context(), device)
		h.logger.Debug("ADMS handshake", "device_id", device.ID, "options", c.Query("options"))
	}
	c.String(http.StatusOK, admsOK)
}

// admsCommandPoll answers the device's command poll. No commands are ever
// queued for devices.
func (h *Handler) admsCommandPoll(c *gin.Context) {
	if device := h.admsDevice(c); device != nil {
		h.stamp(c.Request.Context(), device)
	}
	c.String(http.StatusOK, admsOK)
}

// admsPush always answers OK, whatever happened to the batch.
func (h *Handler) admsPush(c *gin.Context) {
	defer c.String(http.StatusOK, admsOK)

	table := strings.TrimSpace(c.Query("table"))
	device := h.admsDevice(c)
	if device == nil {
		metrics.IncWebhook(adapter.VendorADMS, "unknown_device")
		return
	}
	ctx := c.Request.Context()
	h.stamp(ctx, device)

	if !strings.EqualFold(table, adapter.TableAttendanceLog) {
		h.logger.Debug("Ignoring ADMS table", "device_id", device.ID, "table", table)
		metrics.IncWebhook(adapter.VendorADMS, "ignored")
		return
	}
	if !device.IsActive {
		h.logger.Info("Dropping ADMS batch from inactive device", "device_id", device.ID)
		metrics.IncWebhook(adapter.VendorADMS, "inactive")
		return
	}

	body, err := readBody(c)
	if err != nil {
		h.logger.Warn("Failed to read ADMS body", "device_id", device.ID, "error", err)
		metrics.IncWebhook(adapter.VendorADMS, "error")
		return
	}

	parser, err := h.registry.PushParser(adapter.VendorADMS)
	if err != nil {
		h.logger.Error("ADMS parser unavailable", "error", err)
		metrics.IncWebhook(adapter.VendorADMS, "error")
		return
	}
	events := parser.ParsePushPayload(body, *device)
	queued := h.submitAll(ctx, events)
	h.logger.Info("ADMS attendance batch", "device_id", device.ID, "events", len(events), "queued", queued)
	metrics.IncWebhook(adapter.VendorADMS, "ok")
}
