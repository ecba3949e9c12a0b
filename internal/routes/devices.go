package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/attendance"
	"attendance-ingest/internal/connection"
	"attendance-ingest/internal/storage"

	"github.com/gin-gonic/gin"
)

const probeTimeout = 10 * time.Second

type deviceResponse struct {
	storage.Device
	Streaming  bool               `json:"streaming"`
	Connection *connection.Status `json:"connection,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type virtualEventRequest struct {
	BiometricUserID string `json:"user_id" binding:"required"`
	EventType       string `json:"event_type"`
}

// virtualTrigger is implemented by adapters that can inject test punches.
type virtualTrigger interface {
	TriggerVirtualEvent(deviceID, biometricUserID string, eventType *attendance.EventType) error
}

// DevicesApi registers the operator facing device management routes.
func (h *Handler) DevicesApi(r *gin.RouterGroup) {
	r.GET("", h.listDevices)
	r.GET("/:id", h.showDevice)
	r.GET("/:id/status", h.deviceStatus)
	r.POST("/:id/activate", h.activateDevice)
	r.POST("/:id/deactivate", h.deactivateDevice)
	r.POST("/:id/restart", h.restartDevice)
	r.POST("/:id/test", h.testDevice)
	r.POST("/:id/virtual-event", h.virtualEvent)
	r.DELETE("/:id", h.deleteDevice)
}

// loadDevice resolves the :id parameter, aborting the request on failure.
func (h *Handler) loadDevice(c *gin.Context) (*storage.Device, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, ErrDeviceIDRequired)
		return nil, false
	}
	device, err := h.store.GetDevice(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		AbortWithError(c, ErrDeviceNotFound)
		return nil, false
	}
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInternalServer, err))
		return nil, false
	}
	return device, true
}

func (h *Handler) describe(device storage.Device) deviceResponse {
	resp := deviceResponse{Device: device, Streaming: adapter.IsStreamingVendor(device.Vendor)}
	if status, ok := h.conns.Status(device.ID); ok {
		resp.Connection = &status
	}
	return resp
}

func (h *Handler) listDevices(c *gin.Context) {
	filter := storage.DeviceFilter{
		CompanyID: c.Query("company_id"),
		Vendor:    c.Query("vendor"),
	}
	if active := c.Query("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: active=%q", ErrInvalidRequest, active))
			return
		}
		filter.ActiveOnly = b
	}

	devices, err := h.store.ListDevices(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInternalServer, err))
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, h.describe(d))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) showDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.describe(*device))
}

func (h *Handler) deviceStatus(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	status, _ := h.conns.Status(device.ID)
	status.Vendor = device.Vendor
	c.JSON(http.StatusOK, status)
}

func (h *Handler) activateDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.SetDeviceActive(ctx, device.ID, true); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInternalServer, err))
		return
	}
	device.IsActive = true
	if err := h.conns.StartDevice(ctx, *device); err != nil {
		AbortWithError(c, err)
		return
	}
	h.logger.Info("Device activated", "device_id", device.ID)
	c.JSON(http.StatusOK, h.describe(*device))
}

func (h *Handler) deactivateDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	if err := h.store.SetDeviceActive(c.Request.Context(), device.ID, false); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInternalServer, err))
		return
	}
	h.conns.StopDevice(device.ID)
	device.IsActive = false
	h.logger.Info("Device deactivated", "device_id", device.ID)
	c.JSON(http.StatusOK, h.describe(*device))
}

func (h *Handler) restartDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	if !device.IsActive {
		AbortWithError(c, ErrDeviceInactive)
		return
	}
	if err := h.conns.RestartDevice(c.Request.Context(), device.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.describe(*device))
}

func (h *Handler) testDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	a, err := h.registry.Get(device.Vendor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()
	if device.VendorConfigID != "" {
		vc, err := h.store.GetVendorConfig(ctx, device.VendorConfigID)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: loading vendor config: %v", ErrInternalServer, err))
			return
		}
		device.VendorConfig = vc
	}

	reachable := a.TestConnection(ctx, h.vault.WithDecryptedSecrets(*device))
	c.JSON(http.StatusOK, gin.H{
		"device_id": device.ID,
		"vendor":    device.Vendor,
		"reachable": reachable,
	})
}

func (h *Handler) virtualEvent(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	var req virtualEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	var eventType *attendance.EventType
	switch t := attendance.EventType(strings.ToUpper(req.EventType)); t {
	case "":
	case attendance.CheckIn, attendance.CheckOut:
		eventType = attendance.Type(t)
	default:
		AbortWithError(c, fmt.Errorf("%w: event_type %q", ErrInvalidRequest, req.EventType))
		return
	}

	a, err := h.registry.Get(device.Vendor)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	trigger, ok := a.(virtualTrigger)
	if !ok {
		AbortWithError(c, fmt.Errorf("%w: %s virtual events", adapter.ErrUnsupported, device.Vendor))
		return
	}
	if err := trigger.TriggerVirtualEvent(device.ID, req.BiometricUserID, eventType); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, statusResponse{Status: "queued"})
}

// deleteDevice releases any owned connection before removing the row.
func (h *Handler) deleteDevice(c *gin.Context) {
	device, ok := h.loadDevice(c)
	if !ok {
		return
	}
	h.conns.StopDevice(device.ID)
	if err := h.store.DeleteDevice(c.Request.Context(), device.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	h.logger.Info("Device deleted", "device_id", device.ID)
	c.JSON(http.StatusOK, statusResponse{Status: "deleted"})
}
