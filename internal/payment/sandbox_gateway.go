package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SandboxGateway is an in-process gateway for development.  Tokens
// prefixed with "tok_decline" are declined, tokens prefixed with
// "tok_timeout" block until ctx is done, anything else succeeds.
type SandboxGateway struct{}

// NewSandboxGateway returns a SandboxGateway.
func NewSandboxGateway() *SandboxGateway { return &SandboxGateway{} }

// Charge implements Gateway.
func (SandboxGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	switch {
	case strings.HasPrefix(req.Token, "tok_decline"):
		return ChargeResult{}, fmt.Errorf("%w: sandbox token %s", ErrDeclined, req.Token)
	case strings.HasPrefix(req.Token, "tok_timeout"):
		<-ctx.Done()
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrTransient, ctx.Err())
	}
	if !req.Amount.IsPositive() {
		return ChargeResult{}, fmt.Errorf("%w: amount must be positive", ErrDeclined)
	}
	return ChargeResult{PaymentRef: "sbx_" + uuid.NewString()}, nil
}
