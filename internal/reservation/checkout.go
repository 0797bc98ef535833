package reservation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/payment"
)

type CheckoutInput struct {
	SlotID         string
	Buyer          domain.Actor
	PaymentMethod  string
	Notes          string
	IdempotencyKey string
}

// Checkout charges the buyer and then books the slot. Nothing is held before
// the charge succeeds, so an abandoned checkout leaves no state behind.
func (c *Coordinator) Checkout(ctx context.Context, in CheckoutInput) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "reservation.Checkout",
		trace.WithAttributes(attribute.String("slot.id", in.SlotID)))
	defer span.End()

	if in.Buyer.Role != domain.RoleBuyer {
		return nil, domain.ErrForbidden
	}

	slot, err := c.store.GetSlot(ctx, in.SlotID)
	if errors.Is(err, domain.ErrSlotNotFound) {
		return nil, domain.ErrSlotNoLongerAvailable
	}
	if err != nil {
		return nil, err
	}
	if slot.SellerID == in.Buyer.ID {
		return nil, domain.ErrForbidden
	}
	// read-only pre-check; the claim after payment is what actually decides
	if !slot.Claimable() || !c.now().Before(slot.StartsAt()) {
		return nil, domain.ErrSlotNoLongerAvailable
	}

	chargeCtx, cancel := context.WithTimeout(ctx, c.paymentTimeout)
	defer cancel()
	res, err := c.payments.Charge(chargeCtx, payment.ChargeRequest{
		Amount:         slot.PriceAmount,
		Currency:       slot.Currency,
		PaymentMethod:  in.PaymentMethod,
		BuyerID:        in.Buyer.ID,
		SlotID:         slot.ID,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		c.logger.Warn("charge failed", zap.String("slot_id", slot.ID), zap.Error(err))
		if errors.Is(err, payment.ErrInvalidCharge) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPaymentFailed, err)
		}
		return nil, fmt.Errorf("%w: processor unavailable: %w", domain.ErrPaymentFailed, err)
	}
	if !res.Success {
		c.logger.Info("charge declined", zap.String("slot_id", slot.ID), zap.String("reason", res.FailureReason))
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, res.FailureReason)
	}
	if res.Amount == 0 {
		res.Amount = slot.PriceAmount
	}
	if res.Currency == "" {
		res.Currency = slot.Currency
	}

	return c.CreateBookingAfterPayment(ctx, CreateInput{
		SlotID:  slot.ID,
		BuyerID: in.Buyer.ID,
		Payment: res,
		Notes:   in.Notes,
	})
}
