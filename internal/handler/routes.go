package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vrchat-video-proxy/internal/config"
	"vrchat-video-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The relay is registered for every method so that non-GET requests are
// audited and answered with the relay's own 405 body.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	for _, path := range config.RelayPaths {
		e.Any(path, relay.Handle)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
