package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"consultation-service/internal/domain"
	"consultation-service/internal/store"
)

const bookingColumns = `id, slot_id, buyer_id, seller_id, booking_date, start_time, end_time, timezone,
	status, payment_status, payment_amount, currency, payment_reference, notes,
	meeting_link, external_event_id, seller_invite_sent, buyer_invite_sent, created_at, updated_at`

func scanBooking(row pgx.Row, extra ...any) (*domain.Booking, error) {
	var (
		b          domain.Booking
		date       pgtype.Date
		start, end pgtype.Time
	)
	dest := append(extra, &b.ID, &b.SlotID, &b.BuyerID, &b.SellerID, &date, &start, &end, &b.Timezone,
		&b.Status, &b.PaymentStatus, &b.PaymentAmount, &b.Currency, &b.PaymentReference, &b.Notes,
		&b.MeetingLink, &b.ExternalEventID, &b.SellerInviteSent, &b.BuyerInviteSent,
		&b.CreatedAt, &b.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	b.Date = civilDate(date)
	b.StartTime = civilTime(start)
	b.EndTime = civilTime(end)
	return &b, nil
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func (r *Repo) InsertBooking(ctx context.Context, b *domain.Booking) error {
	if b.PaymentStatus != domain.PaymentPaid || b.PaymentReference == "" {
		return domain.ErrPaymentNotConfirmed
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	q := `INSERT INTO bookings
	      (id, slot_id, buyer_id, seller_id, booking_date, start_time, end_time, timezone,
	       status, payment_status, payment_amount, currency, payment_reference, notes,
	       meeting_link, external_event_id, seller_invite_sent, buyer_invite_sent, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19)`
	_, err := r.db.Exec(ctx, q,
		b.ID, b.SlotID, b.BuyerID, b.SellerID, pgDate(b.Date), pgTime(b.StartTime), pgTime(b.EndTime), b.Timezone,
		b.Status, b.PaymentStatus, b.PaymentAmount, b.Currency, b.PaymentReference, b.Notes,
		b.MeetingLink, b.ExternalEventID, b.SellerInviteSent, b.BuyerInviteSent, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrSlotNoLongerAvailable
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *Repo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	if !validID(id) {
		return nil, domain.ErrBookingNotFound
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id=$1`
	b, err := scanBooking(r.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (r *Repo) ListBookings(ctx context.Context, f store.BookingFilter) ([]domain.Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.SellerID != "" {
		add("seller_id=$%d", f.SellerID)
	}
	if f.BuyerID != "" {
		add("buyer_id=$%d", f.BuyerID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d::text[])", statusStrings(f.Statuses))
	}
	if f.From != nil {
		add("booking_date >= $%d", pgDate(*f.From))
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY booking_date, start_time`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repo) UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE bookings SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update booking status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) SetMeetingLink(ctx context.Context, id string, link domain.MeetingLink, onlyIfEmpty bool) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	q := `UPDATE bookings
	      SET meeting_link=$2, external_event_id=NULLIF($3, ''),
	          seller_invite_sent = seller_invite_sent OR $4,
	          buyer_invite_sent = buyer_invite_sent OR $5,
	          updated_at=now()
	      WHERE id=$1`
	if onlyIfEmpty {
		q += ` AND meeting_link IS NULL`
	}
	tag, err := r.db.Exec(ctx, q, id, link.URL, link.ExternalEventID, link.SellerInvited, link.BuyerInvited)
	if err != nil {
		return false, fmt.Errorf("set meeting link: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) InsertStatusEvent(ctx context.Context, e *domain.StatusEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO booking_status_events (id, booking_id, from_status, to_status, actor_id, actor_role, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.BookingID, e.From, e.To, e.ActorID, e.ActorRole, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

func (r *Repo) ListStatusEvents(ctx context.Context, bookingID string) ([]domain.StatusEvent, error) {
	if !validID(bookingID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, booking_id, from_status, to_status, actor_id, actor_role, created_at
		 FROM booking_status_events WHERE booking_id=$1 ORDER BY created_at, seq`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusEvent
	for rows.Next() {
		var e domain.StatusEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.From, &e.To, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repo) PromoteOverdue(ctx context.Context, now time.Time, grace time.Duration) ([]store.Promotion, error) {
	q := `WITH overdue AS (
	          SELECT id, status AS prev_status FROM bookings
	          WHERE status = ANY($2::text[])
	            AND ((booking_date + end_time) AT TIME ZONE timezone) + make_interval(secs => $3) <= $1
	          FOR UPDATE SKIP LOCKED
	      )
	      UPDATE bookings b SET status='missed', updated_at=$1
	      FROM overdue o
	      WHERE b.id = o.id AND b.status = o.prev_status
	      RETURNING o.prev_status, ` + prefixed("b.", bookingColumns)
	rows, err := r.db.Query(ctx, q, now, statusStrings(domain.PromotableStatuses), grace.Seconds())
	if err != nil {
		return nil, fmt.Errorf("promote overdue: %w", err)
	}
	defer rows.Close()

	var out []store.Promotion
	for rows.Next() {
		var from domain.BookingStatus
		b, err := scanBooking(rows, &from)
		if err != nil {
			return nil, fmt.Errorf("scan promoted booking: %w", err)
		}
		out = append(out, store.Promotion{Booking: *b, From: from})
	}
	return out, rows.Err()
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
