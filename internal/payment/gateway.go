// Package payment is the boundary to the card payment provider.  A
// charge cannot be rolled back once it succeeds, so every request
// carries an idempotency key derived from the purchase it pays for.
package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined means the provider refused the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrTransient means the outcome is unknown: the provider timed
	// out, was unreachable or answered with a server error.
	ErrTransient = errors.New("payment gateway unavailable")
)

// BillingContact is what the provider receives about the payer.
type BillingContact struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// ChargeRequest describes one charge.
type ChargeRequest struct {
	Contact        BillingContact  `json:"billing_contact"`
	Amount         decimal.Decimal `json:"amount"`
	Token          string          `json:"card_token"`
	IdempotencyKey string          `json:"-"`
	Reference      string          `json:"reference"`
}

// ChargeResult is returned for a successful charge.
type ChargeResult struct {
	PaymentRef string
}

// Gateway charges a payment instrument.  Implementations return
// ErrDeclined or ErrTransient (possibly wrapped) on failure.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

var purchaseKeySpace = uuid.MustParse("6f1d5d8e-4b0b-4c36-9a55-0e7c2d3b9a10")

// IdempotencyKey derives a stable key for a purchase: retries of the
// same purchase always send the same key.
func IdempotencyKey(purchaseID uint64) string {
	return uuid.NewSHA1(purchaseKeySpace, []byte("purchase:"+strconv.FormatUint(purchaseID, 10))).String()
}
