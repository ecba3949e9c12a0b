package routes

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/metrics"
	"attendance-ingest/internal/storage"

	"github.com/gin-gonic/gin"
)

type recordResult struct {
	Outcome    attendance.Outcome `json:"outcome"`
	Slot       storage.Slot       `json:"slot,omitempty"`
	EmployeeID string             `json:"employee_id,omitempty"`
}

type webhookResponse struct {
	Status  string         `json:"status"`
	Results []recordResult `json:"results"`
}

// Webhook registers the generic per-device vendor webhook. Unlike the
// relay and ADMS endpoints it answers with real status codes.
func (h *Handler) Webhook(r *gin.RouterGroup) {
	r.POST("/:vendor/:deviceId", h.vendorWebhook)
}

func (h *Handler) vendorWebhook(c *gin.Context) {
	vendor := strings.ToLower(c.Param("vendor"))
	deviceID := c.Param("deviceId")
	ctx := c.Request.Context()

	a, err := h.registry.Get(vendor)
	if err != nil {
		metrics.IncWebhook("generic", "unknown_vendor")
		AbortWithError(c, err)
		return
	}

	device, err := h.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.IncWebhook("generic", "unknown_device")
		AbortWithError(c, ErrDeviceNotFound)
		return
	}
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInternalServer, err))
		return
	}
	if !device.IsActive {
		metrics.IncWebhook("generic", "inactive")
		AbortWithError(c, ErrDeviceInactive)
		return
	}
	if !strings.EqualFold(device.Vendor, a.Vendor()) {
		AbortWithError(c, fmt.Errorf("%w: %s is %s", ErrVendorMismatch, device.ID, device.Vendor))
		return
	}

	body, err := readBody(c)
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	var events []attendance.Event
	switch p := a.(type) {
	case adapter.WebhookParser:
		ev, err := p.ParseWebhookPayload(body, *device)
		if err != nil {
			metrics.IncParseError(vendor)
			metrics.IncWebhook("generic", "parse_error")
			AbortWithError(c, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
			return
		}
		events = append(events, ev)
	case adapter.PushParser:
		events = p.ParsePushPayload(body, *device)
	default:
		AbortWithError(c, fmt.Errorf("%w: %s webhooks", adapter.ErrUnsupported, vendor))
		return
	}
	h.stamp(ctx, device)

	resp := webhookResponse{Status: "ok", Results: make([]recordResult, 0, len(events))}
	for _, ev := range events {
		metrics.IncEventReceived(ev.Vendor)
		res, err := h.recorder.Record(ctx, ev)
		if err != nil {
			metrics.IncWebhook("generic", "error")
			AbortWithError(c, fmt.Errorf("%w: %w", ErrRecordFailed, err))
			return
		}
		resp.Results = append(resp.Results, recordResult{Outcome: res.Outcome, Slot: res.Slot, EmployeeID: res.EmployeeID})
	}
	metrics.IncWebhook("generic", "ok")
	c.JSON(http.StatusOK, resp)
}
