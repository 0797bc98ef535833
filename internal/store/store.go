// Package store declares the persistence contract for slots and bookings.
//
// Every write that affects availability is a single conditional statement
// re-checking its precondition; callers never read-then-write.
package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
)

type SlotStore interface {
	InsertSlots(ctx context.Context, slots []*domain.Slot) error
	GetSlot(ctx context.Context, id string) (*domain.Slot, error)
	// ListAvailable returns claimable slots of a seller dated on or after
	// from, ordered by date then start time.
	ListAvailable(ctx context.Context, sellerID string, from civil.Date) ([]domain.Slot, error)
	// TryClaim flips an available slot to booked in one compare-and-set
	// write. A lost race or a missing slot yields Claimed=false.
	TryClaim(ctx context.Context, slotID, buyerID string) (domain.ClaimResult, error)
	// ReleaseSlot undoes a claim held by buyerID. It reports false when the
	// slot is not claimed by buyerID (already released or gone).
	ReleaseSlot(ctx context.Context, slotID, buyerID string) (bool, error)
	// DeleteUnbookedSlot removes a seller's slot unless it is booked.
	DeleteUnbookedSlot(ctx context.Context, slotID, sellerID string) error
}

type BookingStore interface {
	InsertBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]domain.Booking, error)
	// UpdateBookingStatus moves a booking from -> to only if it is still in
	// from. It reports false when the status changed underneath.
	UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus) (bool, error)
	// SetMeetingLink stores a link. With onlyIfEmpty it never overwrites an
	// existing link.
	SetMeetingLink(ctx context.Context, id string, link domain.MeetingLink, onlyIfEmpty bool) (bool, error)
	InsertStatusEvent(ctx context.Context, e *domain.StatusEvent) error
	ListStatusEvents(ctx context.Context, bookingID string) ([]domain.StatusEvent, error)
	// PromoteOverdue moves every confirmed or in-progress booking whose end
	// plus grace is at or before now to missed, and returns what it moved.
	PromoteOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]Promotion, error)
}

// Promotion is one booking moved to missed by the sweep.
type Promotion struct {
	Booking domain.Booking
	From    domain.BookingStatus
}

type BookingFilter struct {
	SellerID string
	BuyerID  string
	Statuses []domain.BookingStatus
	From     *civil.Date
	Limit    int
}

// RetentionStore lists and deletes rows that aged out. Every delete
// re-checks its predicate so a stale candidate list is harmless.
type RetentionStore interface {
	ExpiredUnbookedSlots(ctx context.Context, now time.Time, limit int) ([]string, error)
	DeleteExpiredUnbookedSlot(ctx context.Context, id string, now time.Time) (bool, error)
	ExpiredBookedSlots(ctx context.Context, now time.Time, maxAgeDays, limit int) ([]string, error)
	DeleteExpiredBookedSlot(ctx context.Context, id string, now time.Time, maxAgeDays int) (bool, error)
	ExpiredBookings(ctx context.Context, now time.Time, maxAgeDays, limit int) ([]string, error)
	DeleteExpiredBooking(ctx context.Context, id string, now time.Time, maxAgeDays int) (bool, error)
}

type ExceptionStore interface {
	InsertPaymentException(ctx context.Context, e *domain.PaymentException) error
	ListOpenPaymentExceptions(ctx context.Context) ([]domain.PaymentException, error)
}

// Repository is the full set of queries available inside and outside a transaction.
type Repository interface {
	SlotStore
	BookingStore
	RetentionStore
	ExceptionStore
}

// Store is a Repository that can run a function atomically.
type Store interface {
	Repository
	// InTx runs fn in one transaction. Any error from fn rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// CredentialStore keeps per-seller calendar OAuth tokens.
type CredentialStore interface {
	SaveCalendarToken(ctx context.Context, sellerID string, tok *oauth2.Token) error
	// CalendarToken returns domain.ErrNoCalendarCredentials when nothing is stored.
	CalendarToken(ctx context.Context, sellerID string) (*oauth2.Token, error)
}

var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore resolves user emails owned by the identity system.
type ProfileStore interface {
	Email(ctx context.Context, userID string) (string, error)
}
