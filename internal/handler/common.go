package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// getCustomerID extracts the customer_id stored by RequireCustomer.
func getCustomerID(c echo.Context) (uint64, error) {
	switch t := c.Get("customer_id").(type) {
	case uint64:
		if t > 0 {
			return t, nil
		}
	case int64:
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("invalid customer_id in context")
}

// idParam parses a positive integer path parameter.
func idParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
