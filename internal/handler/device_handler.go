// internal/handler/device_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pulsepal-service/internal/service"
	"pulsepal-service/internal/utils"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	pulsePalService *service.PulsePalService
	logger          *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(pulsePalService *service.PulsePalService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		pulsePalService: pulsePalService,
		logger:          utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes. Device names are preset names
// or port names; port names containing slashes must be path-escaped.
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)

	devices := router.Group("/devices")
	{
		devices.GET("", h.ListSessions)
		devices.GET("/presets", h.ListPresets)

		deviceRoutes := devices.Group("/:name")
		{
			deviceRoutes.POST("/connect", h.Connect)
			deviceRoutes.POST("/disconnect", h.Disconnect)
			deviceRoutes.POST("/trigger", h.Trigger)
			deviceRoutes.POST("/abort", h.Abort)
			deviceRoutes.POST("/display", h.Display)
			deviceRoutes.POST("/voltage", h.SetFixedVoltage)
			deviceRoutes.POST("/loop", h.SetContinuousLoop)
			deviceRoutes.PUT("/parameters", h.SetParameter)
			deviceRoutes.PUT("/trains/:train", h.UploadPulseTrain)
			deviceRoutes.PUT("/trains/:train/waveform", h.UploadWaveform)
		}
	}
}

func requestContext(c *gin.Context) context.Context {
	return service.WithRequestID(c.Request.Context(), utils.GetRequestID(c))
}

func (h *DeviceHandler) bind(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[fe.Field()] = fe.Tag()
		}
		utils.ValidationErrorResponse(c, fields)
		return false
	}
	utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
	return false
}

// ListPorts lists local serial ports
func (h *DeviceHandler) ListPorts(c *gin.Context) {
	ports, err := h.pulsePalService.ListPorts()
	if err != nil {
		utils.LogError(h.logger.Logger, "Failed to list serial ports", err)
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved successfully", ports)
}

// ListSessions lists open device sessions
func (h *DeviceHandler) ListSessions(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Device sessions retrieved successfully", h.pulsePalService.Sessions())
}

// ListPresets lists configured device presets
func (h *DeviceHandler) ListPresets(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Device presets retrieved successfully", h.pulsePalService.Presets())
}

// Connect checks out and holds a connection
func (h *DeviceHandler) Connect(c *gin.Context) {
	name := c.Param("name")

	info, err := h.pulsePalService.Connect(requestContext(c), name)
	if err != nil {
		h.logger.Error("Failed to connect device", zap.String("device", name), zap.Error(err))
		h.deviceError(c, "Failed to connect device", err)
		return
	}

	h.logger.Info("Device connected successfully", zap.String("device", name))
	utils.SuccessResponse(c, http.StatusOK, "Device connected successfully", info)
}

// Disconnect releases the held connection
func (h *DeviceHandler) Disconnect(c *gin.Context) {
	name := c.Param("name")

	if err := h.pulsePalService.Disconnect(requestContext(c), name); err != nil {
		h.logger.Error("Failed to disconnect device", zap.String("device", name), zap.Error(err))
		h.deviceError(c, "Failed to disconnect device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device disconnected successfully", nil)
}

// Trigger starts pulse trains on the requested channels
func (h *DeviceHandler) Trigger(c *gin.Context) {
	var req service.TriggerRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.pulsePalService.Trigger(requestContext(c), c.Param("name"), req.Channels); err != nil {
		h.deviceError(c, "Failed to trigger channels", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Channels triggered", gin.H{"channels": req.Channels})
}

// Abort stops all pulse trains
func (h *DeviceHandler) Abort(c *gin.Context) {
	if err := h.pulsePalService.Abort(requestContext(c), c.Param("name")); err != nil {
		h.deviceError(c, "Failed to abort pulse trains", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Pulse trains aborted", nil)
}

// Display updates the device display
func (h *DeviceHandler) Display(c *gin.Context) {
	var req service.DisplayRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.pulsePalService.Display(requestContext(c), c.Param("name"), req.Rows); err != nil {
		h.deviceError(c, "Failed to update display", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Display updated", nil)
}

// SetFixedVoltage holds a channel at a voltage
func (h *DeviceHandler) SetFixedVoltage(c *gin.Context) {
	var req service.VoltageRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.pulsePalService.SetFixedVoltage(requestContext(c), c.Param("name"), req.Channel, req.Voltage); err != nil {
		h.deviceError(c, "Failed to set fixed voltage", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Fixed voltage set", req)
}

// SetContinuousLoop changes continuous looping on a channel
func (h *DeviceHandler) SetContinuousLoop(c *gin.Context) {
	var req service.LoopRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.pulsePalService.SetContinuousLoop(requestContext(c), c.Param("name"), req.Channel, req.Enabled); err != nil {
		h.deviceError(c, "Failed to set continuous loop", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Continuous loop updated", req)
}

// SetParameter programs a single parameter
func (h *DeviceHandler) SetParameter(c *gin.Context) {
	var req service.ParameterRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.pulsePalService.SetParameter(requestContext(c), c.Param("name"), req); err != nil {
		h.deviceError(c, "Failed to set parameter", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Parameter updated", req)
}

// UploadPulseTrain uploads a custom pulse train
func (h *DeviceHandler) UploadPulseTrain(c *gin.Context) {
	var req service.PulseTrainRequest
	if !h.bind(c, &req) {
		return
	}

	train := c.Param("train")
	if err := h.pulsePalService.UploadPulseTrain(requestContext(c), c.Param("name"), train, req.Pulses); err != nil {
		h.deviceError(c, "Failed to upload custom pulse train", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Custom pulse train uploaded", gin.H{
		"train":  train,
		"pulses": len(req.Pulses),
	})
}

// UploadWaveform uploads a custom waveform
func (h *DeviceHandler) UploadWaveform(c *gin.Context) {
	var req service.WaveformRequest
	if !h.bind(c, &req) {
		return
	}

	train := c.Param("train")
	if err := h.pulsePalService.UploadWaveform(requestContext(c), c.Param("name"), train, req.SamplingPeriod, req.Voltages); err != nil {
		h.deviceError(c, "Failed to upload custom waveform", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Custom waveform uploaded", gin.H{
		"train":   train,
		"samples": len(req.Voltages),
	})
}
