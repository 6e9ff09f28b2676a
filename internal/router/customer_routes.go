package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-marketplace/internal/handler"
	"github.com/iliyamo/ticket-marketplace/internal/middleware"
)

// CustomerRoutes carries what the customer group needs besides the handler.
type CustomerRoutes struct {
	JWTSecret   string
	Customers   middleware.CustomerLookup
	RateLimit   echo.MiddlewareFunc // applied to every customer route
	Idempotency echo.MiddlewareFunc // applied to POST /purchases only
}

// RegisterCustomer registers customer-scoped endpoints under /v1.  All
// routes require a valid JWT whose user is a customer.
func RegisterCustomer(e *echo.Echo, h *handler.PurchaseHandler, r CustomerRoutes) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(r.JWTSecret),
		middleware.RequireCustomer(r.Customers),
	}
	if r.RateLimit != nil {
		mw = append(mw, r.RateLimit)
	}
	g := e.Group("/v1", mw...)

	if r.Idempotency != nil {
		g.POST("/purchases", h.Create, r.Idempotency)
	} else {
		g.POST("/purchases", h.Create)
	}
	g.GET("/purchases/:id", h.Get)
	g.GET("/my-purchases", h.ListMine)
	g.GET("/my-reservations", h.ListReservations)
}
