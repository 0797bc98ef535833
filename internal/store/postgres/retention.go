package postgres

import (
	"context"
	"fmt"
	"time"

	"consultation-service/internal/domain"
)

// Each slot and booking row carries its own timezone, so "today" is
// evaluated per row: ($now AT TIME ZONE timezone)::date.

const (
	unbookedSlotExpired = `NOT is_booked AND slot_date < ($1::timestamptz AT TIME ZONE timezone)::date`
	bookedSlotExpired   = `is_booked AND slot_date < ($1::timestamptz AT TIME ZONE timezone)::date - $2::int`
	bookingExpired      = `status = ANY($3::text[]) AND booking_date < ($1::timestamptz AT TIME ZONE timezone)::date - $2::int`
)

func (r *Repo) ExpiredUnbookedSlots(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM slots WHERE `+unbookedSlotExpired+` ORDER BY slot_date LIMIT $2`, now, limit)
}

func (r *Repo) DeleteExpiredUnbookedSlot(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.deleteOne(ctx, `DELETE FROM slots WHERE `+unbookedSlotExpired+` AND id=$2`, now, id)
}

func (r *Repo) ExpiredBookedSlots(ctx context.Context, now time.Time, maxAgeDays, limit int) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM slots WHERE `+bookedSlotExpired+` ORDER BY slot_date LIMIT $3`, now, maxAgeDays, limit)
}

func (r *Repo) DeleteExpiredBookedSlot(ctx context.Context, id string, now time.Time, maxAgeDays int) (bool, error) {
	return r.deleteOne(ctx, `DELETE FROM slots WHERE `+bookedSlotExpired+` AND id=$3`, now, maxAgeDays, id)
}

func (r *Repo) ExpiredBookings(ctx context.Context, now time.Time, maxAgeDays, limit int) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM bookings WHERE `+bookingExpired+` ORDER BY booking_date LIMIT $4`,
		now, maxAgeDays, statusStrings(domain.TerminalStatuses), limit)
}

// DeleteExpiredBooking removes the booking together with its status history.
func (r *Repo) DeleteExpiredBooking(ctx context.Context, id string, now time.Time, maxAgeDays int) (bool, error) {
	var deleted bool
	err := r.db.QueryRow(ctx,
		`WITH d AS (
		     DELETE FROM bookings WHERE `+bookingExpired+` AND id=$4 RETURNING id
		 ), e AS (
		     DELETE FROM booking_status_events WHERE booking_id IN (SELECT id FROM d)
		 )
		 SELECT EXISTS (SELECT 1 FROM d)`,
		now, maxAgeDays, statusStrings(domain.TerminalStatuses), id).Scan(&deleted)
	if err != nil {
		return false, fmt.Errorf("delete expired booking: %w", err)
	}
	return deleted, nil
}

func (r *Repo) ids(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) deleteOne(ctx context.Context, q string, args ...any) (bool, error) {
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("delete expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
