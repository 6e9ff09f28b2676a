package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPGateway talks to a card provider over a JSON API:
//
//	POST {base}/charges  ->  201 {"id": "...", "status": "succeeded"}
//	                         402 {"code": "card_declined", "message": "..."}
type HTTPGateway struct {
	client *resty.Client
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type chargeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPGateway builds a gateway client.  timeout bounds every
// request; the caller's context may shorten it further.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPGateway{client: c}
}

// Charge implements Gateway.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var (
		ok  chargeResponse
		bad chargeError
	)
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetBody(req).
		SetResult(&ok).
		SetError(&bad).
		Post("/charges")
	if err != nil {
		// keep the cause in the chain so IsTimeout can see it
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK || code == http.StatusCreated:
		if ok.ID == "" {
			return ChargeResult{}, fmt.Errorf("%w: empty payment id", ErrTransient)
		}
		return ChargeResult{PaymentRef: ok.ID}, nil
	case code == http.StatusPaymentRequired || code == http.StatusUnprocessableEntity:
		return ChargeResult{}, fmt.Errorf("%w: %s %s", ErrDeclined, bad.Code, bad.Message)
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return ChargeResult{}, fmt.Errorf("%w: status %d", ErrTransient, code)
	default:
		return ChargeResult{}, fmt.Errorf("%w: unexpected status %d %s", ErrDeclined, code, bad.Message)
	}
}

// IsTimeout reports whether err comes from a deadline, either the
// caller's context or the HTTP client timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
