// Package payment charges buyers through an external processor.
package payment

import (
	"context"
	"errors"
)

// ErrInvalidCharge is returned before any processor call for malformed requests.
var ErrInvalidCharge = errors.New("invalid charge request")

type ChargeRequest struct {
	Amount        int64
	Currency      string
	PaymentMethod string
	BuyerID       string
	SlotID        string
	// IdempotencyKey makes retries of the same checkout charge once.
	IdempotencyKey string
}

func (r ChargeRequest) Validate() error {
	switch {
	case r.Amount <= 0:
		return errors.Join(ErrInvalidCharge, errors.New("amount must be positive"))
	case r.Currency == "":
		return errors.Join(ErrInvalidCharge, errors.New("missing currency"))
	case r.PaymentMethod == "":
		return errors.Join(ErrInvalidCharge, errors.New("missing payment method"))
	}
	return nil
}

// Result is the processor's verdict. A declined charge is a Result with
// Success=false, not an error.
type Result struct {
	Success       bool
	Reference     string
	Amount        int64
	Currency      string
	FailureReason string
}

type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
}
