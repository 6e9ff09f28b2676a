package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// CustomerLookup maps an authenticated user to a customer.
type CustomerLookup interface {
	FindByUserID(ctx context.Context, userID uint64) (*model.Customer, error)
}

// RequireCustomer only lets callers through whose user account has a
// customer record.  It must run after JWTAuth and stores the customer
// under "customer" and its id under "customer_id".
func RequireCustomer(customers CustomerLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid, ok := c.Get("user_id").(uint64)
			if !ok || uid == 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			cust, err := customers.FindByUserID(c.Request().Context(), uid)
			if errors.Is(err, repository.ErrCustomerNotFound) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "user needs to be a customer"})
			}
			if err != nil {
				c.Logger().Errorf("customer lookup for user %d: %v", uid, err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			c.Set("customer", cust)
			c.Set("customer_id", cust.ID)
			return next(c)
		}
	}
}
