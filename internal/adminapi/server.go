// Package adminapi exposes the device query and telemetry seams over HTTP
// for the management frontend.
package adminapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/routerman/internal/app"
	"go.uber.org/zap"
)

type Server struct {
	app app.AppContext
	e   *echo.Echo
}

func NewServer(appCtx app.AppContext) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{app: appCtx, e: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.e.Group("/api/v1")
	api.GET("/network/device", s.ListDevices)
	api.GET("/network/device/:id/sessions", s.ListSessions)
	api.DELETE("/network/device/:id/session/:name", s.TerminateSession)
	api.GET("/network/device/:id/sfp", s.ListSFPDiagnostics)
	api.GET("/network/device/:id/telemetry/:type", s.SampleTelemetry)
	api.POST("/network/device/:id/probe", s.ProbeDevice)
}

// Start runs the HTTP listener until the server is shut down.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	zap.L().Info("admin api listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   code,
		"msg":    msg,
		"detail": detail,
	})
}
