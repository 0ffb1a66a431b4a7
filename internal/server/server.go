// Package server implements the admin/health surface (C13): process
// liveness, dependency readiness, and a system-info snapshot, served
// over echo the way cmd/orchestrator serves its own API routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lemline/lemline/common/logger"
	"github.com/lemline/lemline/common/metrics"
)

// PingFunc reports whether a dependency the runtime needs is currently
// reachable.
type PingFunc func(ctx context.Context) error

// Server exposes /healthz, /readyz, and /debug/sysinfo.
type Server struct {
	echo *echo.Echo
	log  *logger.Logger
	port int

	readyChecks map[string]PingFunc
}

// New builds the admin server. readyChecks is run on every /readyz
// call, keyed by the dependency name reported in the response body
// (e.g. "database", "broker").
func New(port int, log *logger.Logger, readyChecks map[string]PingFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, log: log, port: port, readyChecks: readyChecks}

	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/debug/sysinfo", s.handleSysinfo)

	return s
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(s.readyChecks))
	ready := true
	for name, check := range s.readyChecks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]interface{}{"ready": ready, "checks": results})
}

func (s *Server) handleSysinfo(c echo.Context) error {
	return c.JSON(http.StatusOK, metrics.GetSystemInfo())
}

// Start runs the admin server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server starting", "port", s.port)
		errCh <- s.echo.Start(fmt.Sprintf(":%d", s.port))
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
