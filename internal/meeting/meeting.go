// Package meeting provisions video meeting links for confirmed bookings.
//
// Provisioning is best effort: a booking is valid without a link and a
// seller-attached link always wins over a generated one.
package meeting

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
)

// Request describes the calendar event to create.
type Request struct {
	BookingID   string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
	Attendees   []string
}

// Service is the external calendar/meeting provider.
type Service interface {
	CreateMeeting(ctx context.Context, tok *oauth2.Token, req Request) (domain.MeetingLink, error)
}

type CredentialSource interface {
	CalendarToken(ctx context.Context, sellerID string) (*oauth2.Token, error)
}

type Directory interface {
	Email(ctx context.Context, userID string) (string, error)
}

type LinkStore interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	SetMeetingLink(ctx context.Context, id string, link domain.MeetingLink, onlyIfEmpty bool) (bool, error)
}

// Job is the unit of provisioning work. It is JSON encoded for the task queue.
type Job struct {
	BookingID string    `json:"booking_id"`
	SellerID  string    `json:"seller_id"`
	BuyerID   string    `json:"buyer_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Timezone  string    `json:"timezone"`
}

func JobFor(b domain.Booking) Job {
	return Job{
		BookingID: b.ID,
		SellerID:  b.SellerID,
		BuyerID:   b.BuyerID,
		Start:     b.StartsAt(),
		End:       b.EndsAt(),
		Timezone:  b.Timezone,
	}
}

// ValidateLink accepts absolute http or https URLs with a host.
func ValidateLink(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidMeetingLink)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMeetingLink, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", domain.ErrInvalidMeetingLink)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidMeetingLink)
	}
	return nil
}
