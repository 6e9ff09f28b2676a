package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// TicketCatalog is the read side of the ticket inventory.
type TicketCatalog interface {
	GetByID(ctx context.Context, id uint64) (*model.Ticket, error)
	ListByEvent(ctx context.Context, eventID uint64) ([]model.Ticket, error)
}

// TicketHandler serves the public ticket catalog.
type TicketHandler struct {
	Tickets TicketCatalog
	Logger  *logrus.Logger
}

// NewTicketHandler panics if tickets is nil.
func NewTicketHandler(tickets TicketCatalog, logger *logrus.Logger) *TicketHandler {
	if tickets == nil {
		panic("nil catalog passed to NewTicketHandler")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TicketHandler{Tickets: tickets, Logger: logger}
}

// GetTicket handles GET /v1/tickets/:id.
func (h *TicketHandler) GetTicket(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid ticket id"})
	}
	t, err := h.Tickets.GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrTicketNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	if err != nil {
		h.Logger.WithContext(c.Request().Context()).WithError(err).WithField("ticket_id", id).Error("get ticket")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, t)
}

// ListEventTickets handles GET /v1/events/:id/tickets.
func (h *TicketHandler) ListEventTickets(c echo.Context) error {
	eventID, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	items, err := h.Tickets.ListByEvent(c.Request().Context(), eventID)
	if err != nil {
		h.Logger.WithContext(c.Request().Context()).WithError(err).WithField("event_id", eventID).Error("list event tickets")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
