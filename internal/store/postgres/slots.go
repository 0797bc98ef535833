package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"consultation-service/internal/domain"
)

const slotColumns = `id, seller_id, slot_date, start_time, end_time, timezone,
	price_amount, currency, requires_approval, is_available, is_booked, booked_by, created_at, updated_at`

func scanSlot(row pgx.Row) (*domain.Slot, error) {
	var (
		s          domain.Slot
		date       pgtype.Date
		start, end pgtype.Time
	)
	if err := row.Scan(&s.ID, &s.SellerID, &date, &start, &end, &s.Timezone,
		&s.PriceAmount, &s.Currency, &s.RequiresApproval, &s.IsAvailable, &s.IsBooked, &s.BookedBy,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Date = civilDate(date)
	s.StartTime = civilTime(start)
	s.EndTime = civilTime(end)
	return &s, nil
}

func (r *Repo) InsertSlots(ctx context.Context, slots []*domain.Slot) error {
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, s := range slots {
		if err := s.Validate(); err != nil {
			return err
		}
		s.IsAvailable, s.IsBooked, s.BookedBy = true, false, nil
		s.CreatedAt, s.UpdatedAt = now, now
		batch.Queue(`INSERT INTO slots
			(id, seller_id, slot_date, start_time, end_time, timezone, price_amount, currency,
			 requires_approval, is_available, is_booked, booked_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true,false,NULL,$10,$10)`,
			s.ID, s.SellerID, pgDate(s.Date), pgTime(s.StartTime), pgTime(s.EndTime),
			s.Timezone, s.PriceAmount, s.Currency, s.RequiresApproval, now)
	}

	br := r.db.SendBatch(ctx, batch)
	for range slots {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	return br.Close()
}

func (r *Repo) GetSlot(ctx context.Context, id string) (*domain.Slot, error) {
	if !validID(id) {
		return nil, domain.ErrSlotNotFound
	}
	q := `SELECT ` + slotColumns + ` FROM slots WHERE id=$1`
	s, err := scanSlot(r.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

func (r *Repo) ListAvailable(ctx context.Context, sellerID string, from civil.Date) ([]domain.Slot, error) {
	q := `SELECT ` + slotColumns + ` FROM slots
	      WHERE seller_id=$1 AND is_available AND NOT is_booked AND slot_date >= $2
	      ORDER BY slot_date, start_time`
	rows, err := r.db.Query(ctx, q, sellerID, pgDate(from))
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	defer rows.Close()

	var out []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *Repo) TryClaim(ctx context.Context, slotID, buyerID string) (domain.ClaimResult, error) {
	if !validID(slotID) {
		return domain.ClaimResult{}, nil
	}
	q := `UPDATE slots
	      SET is_available=false, is_booked=true, booked_by=$2, updated_at=now()
	      WHERE id=$1 AND is_available AND NOT is_booked
	      RETURNING ` + slotColumns
	s, err := scanSlot(r.db.QueryRow(ctx, q, slotID, buyerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ClaimResult{}, nil
	}
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim slot: %w", err)
	}
	// report the flags as they stood before the claim
	s.IsAvailable, s.IsBooked, s.BookedBy = true, false, nil
	return domain.ClaimResult{Claimed: true, Slot: *s}, nil
}

func (r *Repo) ReleaseSlot(ctx context.Context, slotID, buyerID string) (bool, error) {
	if !validID(slotID) {
		return false, nil
	}
	q := `UPDATE slots
	      SET is_available=true, is_booked=false, booked_by=NULL, updated_at=now()
	      WHERE id=$1 AND is_booked AND booked_by=$2`
	tag, err := r.db.Exec(ctx, q, slotID, buyerID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) DeleteUnbookedSlot(ctx context.Context, slotID, sellerID string) error {
	if !validID(slotID) {
		return domain.ErrSlotNotFound
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM slots WHERE id=$1 AND seller_id=$2 AND NOT is_booked`, slotID, sellerID)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// find out why nothing matched
	s, err := r.GetSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if s.SellerID != sellerID {
		return domain.ErrForbidden
	}
	return domain.ErrSlotBooked
}
