package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// Stripe charges with a PaymentIntent confirmed on creation.
type Stripe struct {
	api    *client.API
	logger *zap.Logger
}

func NewStripe(key string, logger *zap.Logger) *Stripe {
	api := &client.API{}
	api.Init(key, nil)
	return &Stripe{api: api, logger: logger}
}

func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.AddMetadata("buyer_id", req.BuyerID)
	params.AddMetadata("slot_id", req.SlotID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			s.logger.Info("card declined",
				zap.String("slot_id", req.SlotID),
				zap.String("code", string(se.Code)),
				zap.String("decline_code", string(se.DeclineCode)))
			return Result{FailureReason: se.Msg}, nil
		}
		return Result{}, fmt.Errorf("stripe payment intent: %w", err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Result{
			Reference:     pi.ID,
			FailureReason: fmt.Sprintf("payment intent %s", pi.Status),
		}, nil
	}
	return Result{
		Success:   true,
		Reference: pi.ID,
		Amount:    pi.Amount,
		Currency:  string(pi.Currency),
	}, nil
}
