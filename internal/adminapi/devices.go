package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/routerman/internal/devices"
	"github.com/talkincode/routerman/internal/domain"
	"github.com/talkincode/routerman/internal/netquery"
	"github.com/talkincode/routerman/internal/routeros"
	"github.com/talkincode/routerman/internal/telemetry"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// ListDevices lists configured router devices
//
// @Summary list configured devices
// @Tags Network
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device [get]
func (s *Server) ListDevices(c echo.Context) error {
	var devs []domain.NetDevice
	if err := s.app.DB().Find(&devs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_ERROR", "Failed to list devices", err.Error())
	}
	// Never leak device credentials to the frontend
	for i := range devs {
		devs[i].Password = ""
	}
	return ok(c, devs)
}

// ListSessions lists active PPP sessions with traffic counters
//
// @Summary list active sessions for a device
// @Tags Network
// @Param id path int true "Device ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device/{id}/sessions [get]
func (s *Server) ListSessions(c echo.Context) error {
	deviceID, err := deviceParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sessions, err := s.app.ActiveSessions(ctx, deviceID)
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, sessions)
}

// TerminateSession disconnects one PPP session by username
//
// @Summary terminate an active session
// @Tags Network
// @Param id path int true "Device ID"
// @Param name path string true "Session username"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device/{id}/session/{name} [delete]
func (s *Server) TerminateSession(c echo.Context) error {
	deviceID, err := deviceParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}
	username := c.Param("name")

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := s.app.TerminateSession(ctx, deviceID, username); err != nil {
		return deviceFail(c, err)
	}
	zap.L().Info("session terminate requested",
		zap.Int64("device_id", deviceID),
		zap.String("username", username),
	)
	return ok(c, map[string]interface{}{"username": username})
}

// ListSFPDiagnostics reads optical diagnostics across device ports
//
// @Summary list SFP diagnostics for a device
// @Tags Network
// @Param id path int true "Device ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device/{id}/sfp [get]
func (s *Server) ListSFPDiagnostics(c echo.Context) error {
	deviceID, err := deviceParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	diags, err := s.app.SFPDiagnostics(ctx, deviceID)
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, diags)
}

// SampleTelemetry polls one metric and returns current value plus history
//
// @Summary sample a telemetry metric
// @Tags Telemetry
// @Param id path int true "Device ID"
// @Param type path string true "Metric type (cpu, temperature, memory, voltage)"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device/{id}/telemetry/{type} [get]
func (s *Server) SampleTelemetry(c echo.Context) error {
	deviceID, err := deviceParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}
	metricType := telemetry.MetricType(c.Param("type"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	sample, err := s.app.SampleMetric(ctx, deviceID, metricType)
	if err != nil {
		return deviceFail(c, err)
	}
	return ok(c, sample)
}

// ProbeDevice triggers an immediate API probe
//
// @Summary probe a device over the management API
// @Tags Network
// @Param id path int true "Device ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/network/device/{id}/probe [post]
func (s *Server) ProbeDevice(c echo.Context) error {
	deviceID, err := deviceParam(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid device ID", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := s.app.Manager().ProbeAPI(ctx, deviceID); err != nil {
		return deviceFail(c, err)
	}

	var dev domain.NetDevice
	if err := s.app.DB().First(&dev, deviceID).Error; err != nil {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Device not found", nil)
	}
	return ok(c, map[string]interface{}{
		"result":  dev.ApiLastResult,
		"message": dev.ApiLastMessage,
	})
}

func deviceParam(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

// deviceFail maps core errors onto HTTP outcomes. Errors the caller can do
// nothing about become a generic failure with the underlying message
// attached.
func deviceFail(c echo.Context, err error) error {
	var notFound *netquery.NotFoundError
	var trap *routeros.DeviceError
	var authErr *routeros.AuthError
	switch {
	case errors.As(err, &notFound):
		return fail(c, http.StatusNotFound, "NOT_FOUND", notFound.Error(), nil)
	case errors.As(err, &trap):
		return fail(c, http.StatusBadRequest, "COMMAND_ERROR", "Device rejected the command", trap.Error())
	case errors.As(err, &authErr):
		return fail(c, http.StatusBadGateway, "AUTH_ERROR", "Device rejected credentials", authErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fail(c, http.StatusGatewayTimeout, "TIMEOUT", "Device did not reply in time", err.Error())
	case errors.Is(err, devices.ErrMaxRetries):
		return fail(c, http.StatusBadGateway, "UNREACHABLE", "Device unreachable", err.Error())
	default:
		return fail(c, http.StatusInternalServerError, "DEVICE_ERROR", "Device operation failed", err.Error())
	}
}
