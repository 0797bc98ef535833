// Package reservation owns the booking state machine: turning a paid
// checkout into a booking and moving bookings between statuses.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/events"
	"consultation-service/internal/meeting"
	"consultation-service/internal/metrics"
	"consultation-service/internal/payment"
	"consultation-service/internal/store"
)

var tracer = otel.Tracer("consultation-service/internal/reservation")

type Deps struct {
	Store      store.Store
	Payments   payment.Processor
	Dispatcher meeting.Dispatcher
	Publisher  events.Publisher
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	// Clock defaults to time.Now.
	Clock          func() time.Time
	PaymentTimeout time.Duration
}

type Coordinator struct {
	store          store.Store
	payments       payment.Processor
	dispatcher     meeting.Dispatcher
	publisher      events.Publisher
	logger         *zap.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
	paymentTimeout time.Duration
}

func New(d Deps) *Coordinator {
	c := &Coordinator{
		store:          d.Store,
		payments:       d.Payments,
		dispatcher:     d.Dispatcher,
		publisher:      d.Publisher,
		logger:         d.Logger,
		metrics:        d.Metrics,
		now:            d.Clock,
		paymentTimeout: d.PaymentTimeout,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.publisher == nil {
		c.publisher = events.Noop{}
	}
	if c.paymentTimeout <= 0 {
		c.paymentTimeout = 30 * time.Second
	}
	return c
}

// CreateInput carries a payment that already succeeded.
type CreateInput struct {
	SlotID  string
	BuyerID string
	Payment payment.Result
	Notes   string
}

// CreateBookingAfterPayment claims the slot and inserts the booking in one
// transaction. A lost claim returns domain.ErrSlotNoLongerAvailable and files
// the payment for manual follow-up.
func (c *Coordinator) CreateBookingAfterPayment(ctx context.Context, in CreateInput) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "reservation.CreateBookingAfterPayment",
		trace.WithAttributes(attribute.String("slot.id", in.SlotID)))
	defer span.End()

	if !in.Payment.Success || in.Payment.Reference == "" || in.Payment.Amount <= 0 {
		span.SetStatus(codes.Error, "payment not confirmed")
		return nil, domain.ErrPaymentNotConfirmed
	}

	var booking domain.Booking
	err := c.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		res, err := repo.TryClaim(ctx, in.SlotID, in.BuyerID)
		if err != nil {
			return err
		}
		if !res.Claimed {
			c.metrics.Claims.WithLabelValues("lost").Inc()
			return domain.ErrSlotNoLongerAvailable
		}
		c.metrics.Claims.WithLabelValues("claimed").Inc()

		if in.Payment.Amount != res.Slot.PriceAmount {
			return fmt.Errorf("%w: paid %d, slot costs %d", domain.ErrPaymentNotConfirmed,
				in.Payment.Amount, res.Slot.PriceAmount)
		}

		booking = domain.NewBookingFromSlot(uuid.NewString(), res.Slot, in.BuyerID)
		booking.Status = domain.StatusConfirmed
		if res.Slot.RequiresApproval {
			booking.Status = domain.StatusPending
		}
		booking.PaymentStatus = domain.PaymentPaid
		booking.PaymentAmount = in.Payment.Amount
		booking.PaymentReference = in.Payment.Reference
		booking.Notes = in.Notes
		if in.Payment.Currency != "" {
			booking.Currency = in.Payment.Currency
		}
		if err := repo.InsertBooking(ctx, &booking); err != nil {
			return err
		}
		return repo.InsertStatusEvent(ctx, &domain.StatusEvent{
			ID:        uuid.NewString(),
			BookingID: booking.ID,
			To:        booking.Status,
			ActorID:   in.BuyerID,
			ActorRole: domain.RoleBuyer,
			CreatedAt: c.now().UTC(),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "booking not created")
		if errors.Is(err, domain.ErrSlotNoLongerAvailable) || errors.Is(err, domain.ErrPaymentNotConfirmed) {
			c.flagPayment(ctx, in, err)
			return nil, err
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	c.metrics.BookingsCreated.Inc()
	c.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("slot_id", booking.SlotID),
		zap.String("status", string(booking.Status)))
	c.publish(ctx, events.KeyBookingCreated, events.BookingCreated{
		BookingID: booking.ID,
		SlotID:    booking.SlotID,
		SellerID:  booking.SellerID,
		BuyerID:   booking.BuyerID,
		Status:    string(booking.Status),
		StartsAt:  booking.StartsAt(),
		At:        c.now().UTC(),
	})
	if booking.Status == domain.StatusConfirmed {
		c.dispatcher.Dispatch(ctx, meeting.JobFor(booking))
	}
	return &booking, nil
}

// flagPayment records a charge that produced no booking. Refunds are a
// support decision.
func (c *Coordinator) flagPayment(ctx context.Context, in CreateInput, cause error) {
	ctx = context.WithoutCancel(ctx)
	ex := domain.PaymentException{
		ID:               uuid.NewString(),
		PaymentReference: in.Payment.Reference,
		SlotID:           in.SlotID,
		BuyerID:          in.BuyerID,
		Amount:           in.Payment.Amount,
		Currency:         in.Payment.Currency,
		Reason:           cause.Error(),
		CreatedAt:        c.now().UTC(),
	}
	c.metrics.PaymentExceptions.Inc()
	c.logger.Error("paid checkout without booking, manual intervention required",
		zap.String("payment_reference", ex.PaymentReference),
		zap.String("slot_id", ex.SlotID),
		zap.String("buyer_id", ex.BuyerID),
		zap.Int64("amount", ex.Amount),
		zap.Error(cause))

	if err := c.store.InsertPaymentException(ctx, &ex); err != nil {
		c.logger.Error("failed to record payment exception", zap.String("payment_reference", ex.PaymentReference), zap.Error(err))
	}
	c.publish(ctx, events.KeyPaymentManualIntervention, events.PaymentManualIntervention{
		ExceptionID:      ex.ID,
		PaymentReference: ex.PaymentReference,
		SlotID:           ex.SlotID,
		BuyerID:          ex.BuyerID,
		Amount:           ex.Amount,
		Currency:         ex.Currency,
		Reason:           ex.Reason,
		At:               ex.CreatedAt,
	})
}

// UpdateStatus moves a booking along the graph on behalf of actor. Cancels
// release the slot in the same transaction.
func (c *Coordinator) UpdateStatus(ctx context.Context, bookingID string, actor domain.Actor, to domain.BookingStatus) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "reservation.UpdateStatus", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
		attribute.String("status.to", string(to)),
		attribute.String("actor.role", string(actor.Role))))
	defer span.End()

	var (
		booking domain.Booking
		from    domain.BookingStatus
	)
	err := c.store.InTx(ctx, func(ctx context.Context, repo store.Repository) error {
		b, err := repo.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := authorize(*b, actor); err != nil {
			return err
		}
		from = b.Status
		if err := c.checkTransition(*b, actor, to); err != nil {
			return err
		}

		ok, err := repo.UpdateBookingStatus(ctx, b.ID, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: booking changed concurrently", domain.ErrInvalidStatusTransition)
		}

		if domain.ReleasesSlot(to) {
			released, err := repo.ReleaseSlot(ctx, b.SlotID, b.BuyerID)
			if err != nil {
				return err
			}
			if !released {
				c.logger.Info("cancelled booking had no slot claim to release",
					zap.String("booking_id", b.ID), zap.String("slot_id", b.SlotID))
			}
		}

		if err := repo.InsertStatusEvent(ctx, &domain.StatusEvent{
			ID:        uuid.NewString(),
			BookingID: b.ID,
			From:      from,
			To:        to,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			CreatedAt: c.now().UTC(),
		}); err != nil {
			return err
		}
		b.Status = to
		booking = *b
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status not updated")
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			c.metrics.Transitions.WithLabelValues(string(from), string(to), "rejected").Inc()
			c.logger.Warn("rejected status transition",
				zap.String("booking_id", bookingID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.String("actor_id", actor.ID),
				zap.String("actor_role", string(actor.Role)),
				zap.Error(err))
			return nil, err
		}
		if errors.Is(err, domain.ErrBookingNotFound) || errors.Is(err, domain.ErrForbidden) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	c.metrics.Transitions.WithLabelValues(string(from), string(to), "applied").Inc()
	c.logger.Info("booking status changed",
		zap.String("booking_id", booking.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_role", string(actor.Role)))
	c.publish(ctx, events.KeyBookingStatusChanged, events.BookingStatusChanged{
		BookingID: booking.ID,
		From:      string(from),
		To:        string(to),
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		At:        c.now().UTC(),
	})
	if from == domain.StatusPending && to == domain.StatusConfirmed {
		c.dispatcher.Dispatch(ctx, meeting.JobFor(booking))
	}
	return &booking, nil
}

func (c *Coordinator) checkTransition(b domain.Booking, actor domain.Actor, to domain.BookingStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStatusTransition, to)
	}
	if err := domain.CheckTransition(b.Status, to, actor.Role); err != nil {
		return err
	}
	if actor.Role == domain.RoleBuyer && to == domain.StatusCancelled && !c.now().Before(b.StartsAt()) {
		return fmt.Errorf("%w: buyers cannot cancel after the start time", domain.ErrInvalidStatusTransition)
	}
	return nil
}

// authorize lets only the booking's own parties act on it.
func authorize(b domain.Booking, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleSystem:
		return nil
	case domain.RoleSeller:
		if actor.ID == b.SellerID {
			return nil
		}
	case domain.RoleBuyer:
		if actor.ID == b.BuyerID {
			return nil
		}
	}
	return domain.ErrForbidden
}

func (c *Coordinator) publish(ctx context.Context, key string, v any) {
	if err := c.publisher.Publish(ctx, key, v); err != nil {
		c.logger.Warn("event not published", zap.String("key", key), zap.Error(err))
	}
}
