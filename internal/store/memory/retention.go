package memory

import (
	"context"
	"sort"
	"time"

	"consultation-service/internal/domain"
)

func unbookedSlotExpired(s domain.Slot, now time.Time) bool {
	return !s.IsBooked && s.Date.Before(domain.Today(now, s.Timezone))
}

func bookedSlotExpired(s domain.Slot, now time.Time, maxAgeDays int) bool {
	return s.IsBooked && s.Date.Before(domain.Today(now, s.Timezone).AddDays(-maxAgeDays))
}

func bookingExpired(b domain.Booking, now time.Time, maxAgeDays int) bool {
	return b.Status.IsTerminal() && b.Date.Before(domain.Today(now, b.Timezone).AddDays(-maxAgeDays))
}

func (r *repo) ExpiredUnbookedSlots(_ context.Context, now time.Time, limit int) ([]string, error) {
	defer r.lock()()
	return r.slotIDs(limit, func(s domain.Slot) bool { return unbookedSlotExpired(s, now) }), nil
}

func (r *repo) DeleteExpiredUnbookedSlot(_ context.Context, id string, now time.Time) (bool, error) {
	defer r.lock()()
	s, ok := r.d.slots[id]
	if !ok || !unbookedSlotExpired(s, now) {
		return false, nil
	}
	delete(r.d.slots, id)
	return true, nil
}

func (r *repo) ExpiredBookedSlots(_ context.Context, now time.Time, maxAgeDays, limit int) ([]string, error) {
	defer r.lock()()
	return r.slotIDs(limit, func(s domain.Slot) bool { return bookedSlotExpired(s, now, maxAgeDays) }), nil
}

func (r *repo) DeleteExpiredBookedSlot(_ context.Context, id string, now time.Time, maxAgeDays int) (bool, error) {
	defer r.lock()()
	s, ok := r.d.slots[id]
	if !ok || !bookedSlotExpired(s, now, maxAgeDays) {
		return false, nil
	}
	delete(r.d.slots, id)
	return true, nil
}

func (r *repo) ExpiredBookings(_ context.Context, now time.Time, maxAgeDays, limit int) ([]string, error) {
	defer r.lock()()
	var ids []string
	for id, b := range r.d.bookings {
		if bookingExpired(b, now, maxAgeDays) {
			ids = append(ids, id)
		}
	}
	return truncate(ids, limit), nil
}

func (r *repo) DeleteExpiredBooking(_ context.Context, id string, now time.Time, maxAgeDays int) (bool, error) {
	defer r.lock()()
	b, ok := r.d.bookings[id]
	if !ok || !bookingExpired(b, now, maxAgeDays) {
		return false, nil
	}
	delete(r.d.bookings, id)

	// history goes with the booking
	kept := r.d.events[:0]
	for _, e := range r.d.events {
		if e.BookingID != id {
			kept = append(kept, e)
		}
	}
	r.d.events = kept
	return true, nil
}

func (r *repo) slotIDs(limit int, match func(domain.Slot) bool) []string {
	var ids []string
	for id, s := range r.d.slots {
		if match(s) {
			ids = append(ids, id)
		}
	}
	return truncate(ids, limit)
}

func truncate(ids []string, limit int) []string {
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}
