package reservation

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"consultation-service/internal/domain"
	"consultation-service/internal/meeting"
	"consultation-service/internal/store"
)

// View is a booking with its display status at read time.
type View struct {
	domain.Booking
	Display domain.Display `json:"display"`
	// LinkPending is set for live bookings still waiting on a meeting link.
	LinkPending bool `json:"link_pending"`
}

func (c *Coordinator) view(b domain.Booking) View {
	return View{
		Booking:     b,
		Display:     domain.DeriveDisplay(b, c.now()),
		LinkPending: b.MeetingLink == nil && !b.Status.IsTerminal(),
	}
}

func (c *Coordinator) Get(ctx context.Context, bookingID string, actor domain.Actor) (*View, error) {
	b, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(*b, actor); err != nil {
		return nil, err
	}
	v := c.view(*b)
	return &v, nil
}

type ListQuery struct {
	Statuses []domain.BookingStatus
	From     *civil.Date
	Limit    int
}

// List returns the actor's bookings: as seller for sellers, as buyer for buyers.
func (c *Coordinator) List(ctx context.Context, actor domain.Actor, q ListQuery) ([]View, error) {
	f := store.BookingFilter{Statuses: q.Statuses, From: q.From, Limit: q.Limit}
	switch actor.Role {
	case domain.RoleSeller:
		f.SellerID = actor.ID
	case domain.RoleBuyer:
		f.BuyerID = actor.ID
	default:
		return nil, domain.ErrForbidden
	}

	bookings, err := c.store.ListBookings(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, c.view(b))
	}
	return out, nil
}

func (c *Coordinator) History(ctx context.Context, bookingID string, actor domain.Actor) ([]domain.StatusEvent, error) {
	b, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := authorize(*b, actor); err != nil {
		return nil, err
	}
	return c.store.ListStatusEvents(ctx, bookingID)
}

// AttachMeetingLink sets a seller-provided link, replacing any existing one.
func (c *Coordinator) AttachMeetingLink(ctx context.Context, bookingID string, actor domain.Actor, link string) (*View, error) {
	if err := meeting.ValidateLink(link); err != nil {
		return nil, err
	}
	b, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleSeller || actor.ID != b.SellerID {
		return nil, domain.ErrForbidden
	}

	ml := domain.MeetingLink{URL: strings.TrimSpace(link)}
	ok, err := c.store.SetMeetingLink(ctx, b.ID, ml, false)
	if err != nil {
		return nil, fmt.Errorf("attach meeting link: %w", err)
	}
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	c.logger.Info("meeting link attached by seller", zap.String("booking_id", b.ID))

	b.MeetingLink = &ml.URL
	b.ExternalEventID = nil
	v := c.view(*b)
	return &v, nil
}
