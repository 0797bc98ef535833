// Package memory is an in-process store with the same conditional-write
// semantics as the Postgres store. It backs tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/oauth2"

	"consultation-service/internal/domain"
	"consultation-service/internal/store"
)

type data struct {
	slots      map[string]domain.Slot
	bookings   map[string]domain.Booking
	events     []domain.StatusEvent
	exceptions []domain.PaymentException
}

func (d *data) clone() *data {
	c := &data{
		slots:      make(map[string]domain.Slot, len(d.slots)),
		bookings:   make(map[string]domain.Booking, len(d.bookings)),
		events:     append([]domain.StatusEvent(nil), d.events...),
		exceptions: append([]domain.PaymentException(nil), d.exceptions...),
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	return c
}

// repo operates on d. mu is nil inside a transaction, where the store
// lock is already held.
type repo struct {
	d  *data
	mu *sync.Mutex
}

func (r *repo) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

type Store struct {
	*repo
	mu sync.Mutex

	credMu   sync.RWMutex
	tokens   map[string]oauth2.Token
	profiles map[string]string
}

var (
	_ store.Store           = (*Store)(nil)
	_ store.CredentialStore = (*Store)(nil)
	_ store.ProfileStore    = (*Store)(nil)
)

func New() *Store {
	s := &Store{
		tokens:   make(map[string]oauth2.Token),
		profiles: make(map[string]string),
	}
	s.repo = &repo{
		d:  &data{slots: map[string]domain.Slot{}, bookings: map[string]domain.Booking{}},
		mu: &s.mu,
	}
	return s
}

// InTx runs fn against a copy of the data and publishes the copy only when
// fn succeeds. Transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.d.clone()
	if err := fn(ctx, &repo{d: work}); err != nil {
		return err
	}
	*s.d = *work
	return nil
}

// slots

func (r *repo) InsertSlots(_ context.Context, slots []*domain.Slot) error {
	for _, s := range slots {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	defer r.lock()()

	now := time.Now().UTC()
	for _, s := range slots {
		s.IsAvailable, s.IsBooked, s.BookedBy = true, false, nil
		s.CreatedAt, s.UpdatedAt = now, now
		r.d.slots[s.ID] = *s
	}
	return nil
}

func (r *repo) GetSlot(_ context.Context, id string) (*domain.Slot, error) {
	defer r.lock()()
	s, ok := r.d.slots[id]
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	return &s, nil
}

func (r *repo) ListAvailable(_ context.Context, sellerID string, from civil.Date) ([]domain.Slot, error) {
	defer r.lock()()
	var out []domain.Slot
	for _, s := range r.d.slots {
		if s.SellerID == sellerID && s.Claimable() && !s.Date.Before(from) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (r *repo) TryClaim(_ context.Context, slotID, buyerID string) (domain.ClaimResult, error) {
	defer r.lock()()
	s, ok := r.d.slots[slotID]
	if !ok || !s.Claimable() {
		return domain.ClaimResult{}, nil
	}
	before := s
	buyer := buyerID
	s.IsAvailable, s.IsBooked, s.BookedBy = false, true, &buyer
	s.UpdatedAt = time.Now().UTC()
	r.d.slots[slotID] = s
	return domain.ClaimResult{Claimed: true, Slot: before}, nil
}

func (r *repo) ReleaseSlot(_ context.Context, slotID, buyerID string) (bool, error) {
	defer r.lock()()
	s, ok := r.d.slots[slotID]
	if !ok || !s.IsBooked || s.BookedBy == nil || *s.BookedBy != buyerID {
		return false, nil
	}
	s.IsAvailable, s.IsBooked, s.BookedBy = true, false, nil
	s.UpdatedAt = time.Now().UTC()
	r.d.slots[slotID] = s
	return true, nil
}

func (r *repo) DeleteUnbookedSlot(_ context.Context, slotID, sellerID string) error {
	defer r.lock()()
	s, ok := r.d.slots[slotID]
	switch {
	case !ok:
		return domain.ErrSlotNotFound
	case s.SellerID != sellerID:
		return domain.ErrForbidden
	case s.IsBooked:
		return domain.ErrSlotBooked
	}
	delete(r.d.slots, slotID)
	return nil
}

// bookings

func (r *repo) InsertBooking(_ context.Context, b *domain.Booking) error {
	if b.PaymentStatus != domain.PaymentPaid || b.PaymentReference == "" {
		return domain.ErrPaymentNotConfirmed
	}
	defer r.lock()()
	for _, other := range r.d.bookings {
		if other.SlotID == b.SlotID && other.Status != domain.StatusCancelled {
			return domain.ErrSlotNoLongerAvailable
		}
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	r.d.bookings[b.ID] = *b
	return nil
}

func (r *repo) GetBooking(_ context.Context, id string) (*domain.Booking, error) {
	defer r.lock()()
	b, ok := r.d.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return &b, nil
}

func (r *repo) ListBookings(_ context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	defer r.lock()()
	var out []domain.Booking
	for _, b := range r.d.bookings {
		if f.SellerID != "" && b.SellerID != f.SellerID {
			continue
		}
		if f.BuyerID != "" && b.BuyerID != f.BuyerID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
			continue
		}
		if f.From != nil && b.Date.Before(*f.From) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *repo) UpdateBookingStatus(_ context.Context, id string, from, to domain.BookingStatus) (bool, error) {
	defer r.lock()()
	b, ok := r.d.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	r.d.bookings[id] = b
	return true, nil
}

func (r *repo) SetMeetingLink(_ context.Context, id string, link domain.MeetingLink, onlyIfEmpty bool) (bool, error) {
	defer r.lock()()
	b, ok := r.d.bookings[id]
	if !ok || (onlyIfEmpty && b.MeetingLink != nil) {
		return false, nil
	}
	url := link.URL
	b.MeetingLink = &url
	b.ExternalEventID = nil
	if link.ExternalEventID != "" {
		ev := link.ExternalEventID
		b.ExternalEventID = &ev
	}
	b.SellerInviteSent = b.SellerInviteSent || link.SellerInvited
	b.BuyerInviteSent = b.BuyerInviteSent || link.BuyerInvited
	b.UpdatedAt = time.Now().UTC()
	r.d.bookings[id] = b
	return true, nil
}

func (r *repo) InsertStatusEvent(_ context.Context, e *domain.StatusEvent) error {
	defer r.lock()()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.d.events = append(r.d.events, *e)
	return nil
}

func (r *repo) ListStatusEvents(_ context.Context, bookingID string) ([]domain.StatusEvent, error) {
	defer r.lock()()
	var out []domain.StatusEvent
	for _, e := range r.d.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *repo) PromoteOverdue(_ context.Context, now time.Time, grace time.Duration) ([]store.Promotion, error) {
	defer r.lock()()
	var out []store.Promotion
	for id, b := range r.d.bookings {
		if !containsStatus(domain.PromotableStatuses, b.Status) {
			continue
		}
		if now.Before(b.EndsAt().Add(grace)) {
			continue
		}
		from := b.Status
		b.Status = domain.StatusMissed
		b.UpdatedAt = now
		r.d.bookings[id] = b
		out = append(out, store.Promotion{Booking: b, From: from})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Booking.ID < out[j].Booking.ID })
	return out, nil
}

func containsStatus(list []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// exceptions

func (r *repo) InsertPaymentException(_ context.Context, e *domain.PaymentException) error {
	defer r.lock()()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.d.exceptions = append(r.d.exceptions, *e)
	return nil
}

func (r *repo) ListOpenPaymentExceptions(_ context.Context) ([]domain.PaymentException, error) {
	defer r.lock()()
	var out []domain.PaymentException
	for _, e := range r.d.exceptions {
		if e.ResolvedAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// credentials and profiles

func (s *Store) SaveCalendarToken(_ context.Context, sellerID string, tok *oauth2.Token) error {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	t := *tok
	if t.RefreshToken == "" {
		t.RefreshToken = s.tokens[sellerID].RefreshToken
	}
	s.tokens[sellerID] = t
	return nil
}

func (s *Store) CalendarToken(_ context.Context, sellerID string) (*oauth2.Token, error) {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	t, ok := s.tokens[sellerID]
	if !ok {
		return nil, domain.ErrNoCalendarCredentials
	}
	return &t, nil
}

// SetProfile registers a user's email, standing in for the identity system.
func (s *Store) SetProfile(userID, email string) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	s.profiles[userID] = email
}

func (s *Store) Email(_ context.Context, userID string) (string, error) {
	s.credMu.RLock()
	defer s.credMu.RUnlock()
	email, ok := s.profiles[userID]
	if !ok {
		return "", store.ErrProfileNotFound
	}
	return email, nil
}
