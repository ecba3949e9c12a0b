package routes

import (
	"errors"
	"net/http"
	"strings"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/storage"

	"github.com/gin-gonic/gin"
)

const relayACK = "ACK"

func (h *Handler) CloudRelay(r *gin.RouterGroup) {
	r.POST("/cloudrelay", h.cloudRelayWebhook)
}

// cloudRelayWebhook acknowledges every delivery with 200 so the relay does
// not retry. Rejections are only visible in logs and metrics.
func (h *Handler) cloudRelayWebhook(c *gin.Context) {
	defer c.String(http.StatusOK, relayACK)
	result := h.cloudRelay(c)
	metrics.IncWebhook(adapter.VendorCloudRelay, result)
}

func (h *Handler) cloudRelay(c *gin.Context) string {
	logger := h.logger.With("endpoint", "cloudrelay", "ip", c.ClientIP())

	body, err := readBody(c)
	if err != nil {
		logger.Warn("Failed to read cloud relay body", "error", err)
		return "error"
	}

	switch sig := verifySignature(h.webhook.Secret, c.Request.Header, body); sig {
	case signatureValid:
	case signatureInvalid:
		logger.Warn("Rejecting cloud relay delivery with bad signature")
		return "bad_signature"
	case signatureMissing, signatureUnverifiable:
		if h.webhook.RequireSignature {
			logger.Warn("Rejecting cloud relay delivery", "signature", sig.String())
			return "bad_signature"
		}
		logger.Warn("Accepting cloud relay delivery without verified signature", "signature", sig.String())
	}

	relay, err := h.registry.CloudRelay()
	if err != nil {
		logger.Error("Cloud relay adapter unavailable", "error", err)
		return "error"
	}

	ref, err := relay.ExtractDeviceRef(body)
	if err != nil {
		logger.Warn("Unparseable cloud relay delivery", "error", err)
		metrics.IncParseError(adapter.VendorCloudRelay)
		return "parse_error"
	}

	ctx := c.Request.Context()
	device, err := h.store.FindDeviceByCloudRef(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Cloud relay delivery for unknown device", "device_ref", ref)
		return "unknown_device"
	}
	if err != nil {
		logger.Error("Failed to look up cloud relay device", "device_ref", ref, "error", err)
		return "error"
	}
	if !strings.EqualFold(device.Vendor, adapter.VendorCloudRelay) {
		logger.Warn("Cloud relay delivery for a device of another vendor", "device_id", device.ID, "vendor", device.Vendor)
		return "vendor_mismatch"
	}
	h.stamp(ctx, device)
	if !device.IsActive {
		logger.Info("Dropping cloud relay delivery for inactive device", "device_id", device.ID)
		return "inactive"
	}

	ev, err := relay.ParseWebhookPayload(body, *device)
	if err != nil {
		logger.Warn("Unparseable cloud relay punch", "device_id", device.ID, "error", err)
		metrics.IncParseError(adapter.VendorCloudRelay)
		return "parse_error"
	}
	if h.submitAll(ctx, []attendance.Event{ev}) == 0 {
		return "error"
	}
	return "ok"
}
