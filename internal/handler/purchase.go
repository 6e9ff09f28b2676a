package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/service"
)

// PurchaseService is the part of service.PurchaseService the HTTP layer uses.
type PurchaseService interface {
	Purchase(ctx context.Context, customerID uint64, ticketIDs []uint64, paymentToken string) (*model.Purchase, error)
	GetCustomerPurchase(ctx context.Context, customerID, id uint64) (*model.Purchase, error)
	ListPurchases(ctx context.Context, customerID uint64) ([]model.Purchase, error)
	ListReservations(ctx context.Context, customerID uint64) ([]model.Reservation, error)
}

// PurchaseHandler exposes the purchase workflow to customers.  All
// methods assume JWTAuth and RequireCustomer already ran.
type PurchaseHandler struct {
	Service PurchaseService
	Logger  *logrus.Logger
}

// NewPurchaseHandler panics if svc is nil.
func NewPurchaseHandler(svc PurchaseService, logger *logrus.Logger) *PurchaseHandler {
	if svc == nil {
		panic("nil service passed to NewPurchaseHandler")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PurchaseHandler{Service: svc, Logger: logger}
}

type purchaseRequest struct {
	TicketIDs []uint64 `json:"ticket_ids" validate:"required,min=1,max=50,unique,dive,gt=0"`
	CardToken string   `json:"card_token" validate:"required,max=255"`
}

// Create handles POST /v1/purchases.  The body carries ticket_ids and
// card_token; the response is the paid purchase with 201 Created.
func (h *PurchaseHandler) Create(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body purchaseRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request", "details": err.Error()})
	}

	p, err := h.Service.Purchase(c.Request().Context(), customerID, body.TicketIDs, body.CardToken)
	if err != nil {
		return h.purchaseError(c, customerID, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// purchaseError maps the workflow failure taxonomy to HTTP.
func (h *PurchaseHandler) purchaseError(c echo.Context, customerID uint64, err error) error {
	var te *service.TicketsError
	hasIDs := errors.As(err, &te)

	switch {
	case errors.Is(err, service.ErrInvalidPurchase):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrCustomerNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "customer not found"})
	case errors.Is(err, service.ErrTicketsNotFound):
		resp := echo.Map{"error": "one or more tickets not found"}
		if hasIDs {
			resp["missing_ticket_ids"] = te.IDs
		}
		return c.JSON(http.StatusNotFound, resp)
	case errors.Is(err, service.ErrTicketsUnavailable):
		resp := echo.Map{"error": "some tickets are not available"}
		if hasIDs {
			resp["unavailable_ticket_ids"] = te.IDs
		}
		return c.JSON(http.StatusConflict, resp)
	case errors.Is(err, service.ErrPaymentDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment declined"})
	case errors.Is(err, service.ErrPaymentTimeout):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "payment timed out"})
	case errors.Is(err, service.ErrPaymentUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable"})
	}
	h.Logger.WithContext(c.Request().Context()).WithError(err).WithField("customer_id", customerID).Error("purchase failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// Get handles GET /v1/purchases/:id.  Purchases of other customers
// are reported as not found.
func (h *PurchaseHandler) Get(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := idParam(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid purchase id"})
	}
	p, err := h.Service.GetCustomerPurchase(c.Request().Context(), customerID, id)
	if errors.Is(err, service.ErrPurchaseNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase not found"})
	}
	if err != nil {
		h.Logger.WithContext(c.Request().Context()).WithError(err).WithField("purchase_id", id).Error("get purchase")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, p)
}

// ListMine handles GET /v1/my-purchases.
func (h *PurchaseHandler) ListMine(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Service.ListPurchases(c.Request().Context(), customerID)
	if err != nil {
		h.Logger.WithContext(c.Request().Context()).WithError(err).Error("list purchases")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListReservations handles GET /v1/my-reservations.
func (h *PurchaseHandler) ListReservations(c echo.Context) error {
	customerID, err := getCustomerID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.Service.ListReservations(c.Request().Context(), customerID)
	if err != nil {
		h.Logger.WithContext(c.Request().Context()).WithError(err).Error("list reservations")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
