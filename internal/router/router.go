// Package router wires handlers and middleware onto echo.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/ticket-marketplace/internal/handler"
)

// RegisterRoutes registers the unauthenticated operational endpoints:
// the health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the public ticket catalog under /v1.  The
// given middleware (normally the Redis response cache) wraps every
// route of the group.
func RegisterPublic(e *echo.Echo, h *handler.TicketHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1", mw...)
	g.GET("/tickets/:id", h.GetTicket)
	g.GET("/events/:id/tickets", h.ListEventTickets)
}
