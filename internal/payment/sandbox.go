package payment

import (
	"context"

	"github.com/google/uuid"
)

// DeclinedMethod is the payment method the sandbox always declines.
const DeclinedMethod = "pm_card_declined"

// Sandbox approves every valid charge except DeclinedMethod. It is used when
// no Stripe key is configured.
type Sandbox struct{}

func (Sandbox) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.PaymentMethod == DeclinedMethod {
		return Result{FailureReason: "your card was declined"}, nil
	}
	return Result{
		Success:   true,
		Reference: "sbx_" + uuid.NewString(),
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}
