package postgres

import (
	"context"
	"fmt"
	"time"

	"consultation-service/internal/domain"
)

func (r *Repo) InsertPaymentException(ctx context.Context, e *domain.PaymentException) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO payment_exceptions (id, payment_reference, slot_id, buyer_id, amount, currency, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.PaymentReference, e.SlotID, e.BuyerID, e.Amount, e.Currency, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment exception: %w", err)
	}
	return nil
}

func (r *Repo) ListOpenPaymentExceptions(ctx context.Context) ([]domain.PaymentException, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, payment_reference, slot_id, buyer_id, amount, currency, reason, created_at, resolved_at
		 FROM payment_exceptions WHERE resolved_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list payment exceptions: %w", err)
	}
	defer rows.Close()

	var out []domain.PaymentException
	for rows.Next() {
		var e domain.PaymentException
		if err := rows.Scan(&e.ID, &e.PaymentReference, &e.SlotID, &e.BuyerID, &e.Amount,
			&e.Currency, &e.Reason, &e.CreatedAt, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan payment exception: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
