package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

type BookingStatus string

const (
	StatusPending    BookingStatus = "pending"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
	StatusMissed     BookingStatus = "missed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Slot is a seller-published window expressed in the seller's local calendar.
type Slot struct {
	ID          string     `json:"id"`
	SellerID    string     `json:"seller_id"`
	Date        civil.Date `json:"date"`
	StartTime   civil.Time `json:"start_time"`
	EndTime     civil.Time `json:"end_time"`
	Timezone    string     `json:"timezone"`
	PriceAmount int64      `json:"price_amount"`
	Currency    string     `json:"currency"`
	IsAvailable bool       `json:"is_available"`
	IsBooked    bool       `json:"is_booked"`
	BookedBy    *string    `json:"booked_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// RequiresApproval books the slot as pending until the seller confirms.
	RequiresApproval bool `json:"requires_approval"`
}

// Claimable reports whether a claim on this snapshot would succeed.
func (s Slot) Claimable() bool {
	return s.IsAvailable && !s.IsBooked
}

// Validate checks the fields a seller controls.
func (s Slot) Validate() error {
	if s.SellerID == "" {
		return fmt.Errorf("%w: seller_id required", ErrInvalidSlot)
	}
	if !s.Date.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrInvalidSlot)
	}
	if !s.StartTime.IsValid() || !s.EndTime.IsValid() {
		return fmt.Errorf("%w: invalid time of day", ErrInvalidSlot)
	}
	if !s.StartTime.Before(s.EndTime) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidSlot)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSlot, s.Timezone)
	}
	if s.PriceAmount <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidSlot)
	}
	if s.Currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidSlot)
	}
	return nil
}

// ClaimResult is the outcome of a conditional claim. Slot holds the
// pre-claim snapshot when Claimed is true.
type ClaimResult struct {
	Claimed bool
	Slot    Slot
}

type Booking struct {
	ID               string        `json:"id"`
	SlotID           string        `json:"slot_id"`
	BuyerID          string        `json:"buyer_id"`
	SellerID         string        `json:"seller_id"`
	Date             civil.Date    `json:"booking_date"`
	StartTime        civil.Time    `json:"start_time"`
	EndTime          civil.Time    `json:"end_time"`
	Timezone         string        `json:"timezone"`
	Status           BookingStatus `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentAmount    int64         `json:"payment_amount"`
	Currency         string        `json:"currency"`
	PaymentReference string        `json:"payment_reference"`
	Notes            string        `json:"notes,omitempty"`
	MeetingLink      *string       `json:"meeting_link,omitempty"`
	ExternalEventID  *string       `json:"external_event_id,omitempty"`
	SellerInviteSent bool          `json:"seller_invite_sent"`
	BuyerInviteSent  bool          `json:"buyer_invite_sent"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewBookingFromSlot copies the scheduling facts of a claimed slot so the
// booking keeps them after the slot row is gone.
func NewBookingFromSlot(id string, s Slot, buyerID string) Booking {
	return Booking{
		ID:        id,
		SlotID:    s.ID,
		BuyerID:   buyerID,
		SellerID:  s.SellerID,
		Date:      s.Date,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Timezone:  s.Timezone,
		Currency:  s.Currency,
	}
}

// MatchesSlot reports whether the booking carries the exact window of s.
func (b Booking) MatchesSlot(s Slot) bool {
	return b.SlotID == s.ID &&
		b.SellerID == s.SellerID &&
		b.Date == s.Date &&
		b.StartTime == s.StartTime &&
		b.EndTime == s.EndTime &&
		b.Timezone == s.Timezone
}

// StartsAt and EndsAt resolve the local window to absolute instants.
func (b Booking) StartsAt() time.Time {
	return instant(b.Date, b.StartTime, b.Timezone)
}

func (b Booking) EndsAt() time.Time {
	return instant(b.Date, b.EndTime, b.Timezone)
}

func (s Slot) StartsAt() time.Time {
	return instant(s.Date, s.StartTime, s.Timezone)
}

func (s Slot) EndsAt() time.Time {
	return instant(s.Date, s.EndTime, s.Timezone)
}

func instant(d civil.Date, t civil.Time, tz string) time.Time {
	return civil.DateTime{Date: d, Time: t}.In(Location(tz))
}

// Location resolves an IANA name, falling back to UTC for unknown or empty names.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the calendar date of now in tz.
func Today(now time.Time, tz string) civil.Date {
	return civil.DateOf(now.In(Location(tz)))
}

// MeetingLink is what the calendar service hands back for a booking. The
// invite flags only ever turn on; a manual link leaves them as they were.
type MeetingLink struct {
	URL             string `json:"meeting_link"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	SellerInvited   bool   `json:"seller_invited"`
	BuyerInvited    bool   `json:"buyer_invited"`
}

type ActorRole string

const (
	RoleSeller ActorRole = "seller"
	RoleBuyer  ActorRole = "buyer"
	RoleSystem ActorRole = "system"
)

// Actor is whoever asks for a state change.
type Actor struct {
	ID   string
	Role ActorRole
}

// SystemActor is used by background sweeps.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// StatusEvent is one persisted transition of a booking.
type StatusEvent struct {
	ID        string        `json:"id"`
	BookingID string        `json:"booking_id"`
	From      BookingStatus `json:"from_status,omitempty"`
	To        BookingStatus `json:"to_status"`
	ActorID   string        `json:"actor_id"`
	ActorRole ActorRole     `json:"actor_role"`
	CreatedAt time.Time     `json:"created_at"`
}

// PaymentException records a paid checkout that could not be booked.
type PaymentException struct {
	ID               string     `json:"id"`
	PaymentReference string     `json:"payment_reference"`
	SlotID           string     `json:"slot_id"`
	BuyerID          string     `json:"buyer_id"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Reason           string     `json:"reason"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}
